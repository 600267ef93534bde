package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/bridge"
	"github.com/pelletier/go-toml"
)

var AppVersion string

type Configuration struct {
	Bridge *bridge.Configuration `toml:"bridge"`
	Dev    *DevConfig            `toml:"dev"`
}

func ReadConfiguration(path string) (*Configuration, error) {
	if strings.HasPrefix(path, "~/") {
		usr, _ := user.Current()
		path = filepath.Join(usr.HomeDir, (path)[2:])
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conf Configuration
	err = toml.Unmarshal(f, &conf)
	if err != nil {
		return nil, err
	}
	if conf.Bridge == nil {
		return nil, fmt.Errorf("ReadConfiguration(%s) => no bridge section", path)
	}
	err = bitcoin.VerifyNetwork(conf.Bridge.Network)
	if err != nil {
		return nil, err
	}
	if conf.Bridge.VerifyBlockWindow == 0 {
		conf.Bridge.VerifyBlockWindow = bridge.DefaultVerifyBlockWindow
	}
	handleDevConfig(conf.Dev)
	return &conf, nil
}
