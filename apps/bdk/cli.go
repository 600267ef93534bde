package bdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/mixin/logger"
)

const (
	DefaultWalletName = "wallet_name_temp"

	execTimeout = 3 * time.Minute
)

// ExecError keeps the stderr of a failed wallet tool call, callers match
// domain errors like insufficient funds against its message.
type ExecError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("bdk-cli(%s) => %v %s", e.Command, e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

type Tool struct {
	network     string
	cliPath     string
	patchedPath string
	dataDir     string
	walletName  string
	lock        *Lock
}

// NewTool keeps all wallet state under dataDir. The tool stores a wallet
// in dataDir/walletName, which is the directory guarded by the lock.
func NewTool(network, cliPath, patchedPath, dataDir string) *Tool {
	if network == "" || cliPath == "" || patchedPath == "" || dataDir == "" {
		panic(fmt.Errorf("bdk.NewTool(%s, %s, %s, %s)", network, cliPath, patchedPath, dataDir))
	}
	return &Tool{
		network:     network,
		cliPath:     cliPath,
		patchedPath: patchedPath,
		dataDir:     dataDir,
		walletName:  DefaultWalletName,
		lock:        NewLock(filepath.Join(dataDir, DefaultWalletName)),
	}
}

// run executes the tool and decodes its stdout JSON into out. A call with
// a nil out only checks the exit status.
func (t *Tool) run(ctx context.Context, program string, out any, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	args = append([]string{"--network", t.network}, args...)
	command := redact(args)
	logger.Verbosef("bdk.run(%s) => %s", program, command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if stderr.Len() > 0 {
		logger.Printf("bdk.run(%s) => stderr %s", command, strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return &ExecError{Command: command, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	if out == nil {
		return nil
	}
	err = json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), out)
	if err != nil {
		return &ExecError{Command: command, Stderr: stdout.String(), Err: err}
	}
	return nil
}

// redact hides extended private keys in logged arguments.
func redact(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "prv") && !strings.HasPrefix(a, "--") {
			parts[i] = "<redacted>"
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func (t *Tool) walletArgs(descriptor string, args ...string) []string {
	return append([]string{
		"--datadir", t.dataDir,
		"wallet",
		"--wallet", t.walletName,
		"--descriptor", descriptor,
	}, args...)
}

type GeneratedKey struct {
	Fingerprint string `json:"fingerprint"`
	Mnemonic    string `json:"mnemonic"`
	Xprv        string `json:"xprv"`
}

type DerivedKey struct {
	Xprv string `json:"xprv"`
	Xpub string `json:"xpub"`
}

func (t *Tool) GenerateKey(ctx context.Context) (*GeneratedKey, error) {
	var key GeneratedKey
	err := t.run(ctx, t.cliPath, &key, "key", "generate")
	if err != nil {
		return nil, err
	}
	if key.Xprv == "" || key.Fingerprint == "" {
		return nil, fmt.Errorf("bdk.GenerateKey() => empty key")
	}
	return &key, nil
}

func (t *Tool) DeriveKey(ctx context.Context, xprv string) (*DerivedKey, error) {
	var key DerivedKey
	err := t.run(ctx, t.cliPath, &key, "key", "derive", "--xprv", xprv, "--path", bitcoin.DerivePath)
	if err != nil {
		return nil, err
	}
	if key.Xpub == "" {
		return nil, fmt.Errorf("bdk.DeriveKey() => empty xpub")
	}
	return &key, nil
}

// Compile turns a policy like thresh(2,pk(A),pk(B)) into a descriptor.
func (t *Tool) Compile(ctx context.Context, policy string) (string, error) {
	var out struct {
		Descriptor string `json:"descriptor"`
	}
	err := t.run(ctx, t.cliPath, &out, "compile", policy)
	if err != nil {
		return "", err
	}
	if out.Descriptor == "" {
		return "", fmt.Errorf("bdk.Compile() => empty descriptor")
	}
	return out.Descriptor, nil
}

// WithWallet runs fn with exclusive use of the temporary wallet directory,
// which is emptied before fn starts and after it returns.
func (t *Tool) WithWallet(ctx context.Context, fn func(w Wallet) error) error {
	release, err := t.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(&session{tool: t})
}
