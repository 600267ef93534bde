package bridge

// FIXME do rate limit based on IP

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/dimfeld/httptreemux/v5"
)

var VERSION string

func (node *Node) StartHTTP(version string) {
	VERSION = version

	err := http.ListenAndServe(fmt.Sprintf(":%d", node.conf.HTTPPort), node.handler())
	if err != nil {
		panic(err)
	}
}

func (node *Node) handler() http.Handler {
	router := httptreemux.New()
	router.PanicHandler = common.HandlePanic
	router.NotFoundHandler = common.HandleNotFound

	router.GET("/", node.httpIndex)
	router.POST("/address", node.httpNewAddress)
	router.POST("/get_address_from_db", node.httpNewAddress)
	router.POST("/estimate_fee", node.httpEstimateFee)
	router.POST("/sign_multisig_tx", node.httpSignMultisigTransaction)
	router.POST("/get_mint_info", node.httpGetMintInfo)
	router.POST("/watch_tx", node.httpWatchTransaction)
	handler := common.HandleCORS(router)
	return handleLog(handler)
}

func handleLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Verbosef("ServeHTTP(%s %s %s)", r.Method, r.URL.Path, r.RemoteAddr)
		handler.ServeHTTP(w, r)
	})
}

func (node *Node) httpIndex(w http.ResponseWriter, r *http.Request, params map[string]string) {
	common.RenderJSON(w, r, http.StatusOK, map[string]any{
		"version": VERSION,
		"network": node.conf.Network,
		"service": node.issuer.ServiceAddress(),
	})
}

func (node *Node) httpNewAddress(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body struct {
		AccountAddress string `json:"account_address"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		common.RenderMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	addr, err := node.NewBridgeAddress(r.Context(), body.AccountAddress)
	if err != nil {
		renderBridgeError(w, r, err)
		return
	}
	common.RenderOK(w, r, map[string]any{
		"multi_address":   addr.MultiAddress,
		"account_address": addr.AccountAddress,
	})
}

func (node *Node) httpEstimateFee(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body struct {
		MintAddress     string `json:"mint_address"`
		WithdrawAddress string `json:"withdraw_address"`
		WithdrawAmount  string `json:"withdraw_amount"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		common.RenderMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	estimate, err := node.orchestrator.EstimateFee(r.Context(), body.MintAddress, body.WithdrawAddress, body.WithdrawAmount)
	if err != nil {
		renderBridgeError(w, r, err)
		return
	}
	common.RenderOK(w, r, map[string]any{
		"fee":         estimate.Fee,
		"vbytes":      estimate.VBytes,
		"send_amount": estimate.SendAmount,
		"fee_rate":    estimate.Rate,
		"recommended_fee_rates": map[string]any{
			"fastest_fee":   estimate.Fees.FastestFee,
			"half_hour_fee": estimate.Fees.HalfHourFee,
			"hour_fee":      estimate.Fees.HourFee,
			"economy_fee":   estimate.Fees.EconomyFee,
			"minimum_fee":   estimate.Fees.MinimumFee,
		},
	})
}

func (node *Node) httpSignMultisigTransaction(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req WithdrawRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		common.RenderMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	// a client leaving must not stop a withdrawal between burn and broadcast
	ctx := context.WithoutCancel(r.Context())
	session, err := node.orchestrator.Withdraw(ctx, &req)
	if err != nil {
		renderBridgeError(w, r, err)
		return
	}
	common.RenderOK(w, r, map[string]any{
		"id":             session.Id,
		"tx_id":          session.TxId,
		"fee":            session.Fee,
		"vbytes":         session.VBytes,
		"send_amount":    session.SendAmount,
		"burn_signature": session.BurnSignature,
	})
}

func (node *Node) httpGetMintInfo(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body struct {
		Address string `json:"btc_deposit_address"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		common.RenderMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	addr, err := node.store.ReadAddress(r.Context(), body.Address)
	if err != nil {
		common.RenderError(w, r, err)
		return
	}
	if addr == nil {
		common.RenderMessage(w, r, http.StatusNotFound, "Deposit address not found")
		return
	}
	if !addr.Minted || !addr.MintAddress.Valid {
		common.RenderMessage(w, r, http.StatusNotFound, "Token is not minted")
		return
	}
	common.RenderOK(w, r, map[string]any{"mint_address": addr.MintAddress.String})
}

func (node *Node) httpWatchTransaction(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body struct {
		TxHash         string `json:"tx_hash"`
		DepositAddress string `json:"btc_deposit_address"`
		DomiAddress    string `json:"domi_address"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil || len(body.TxHash) != 64 {
		common.RenderMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	addr, err := node.store.ReadAddress(r.Context(), body.DepositAddress)
	if err != nil {
		common.RenderError(w, r, err)
		return
	}
	if addr == nil {
		common.RenderMessage(w, r, http.StatusNotFound, "Deposit address not found")
		return
	}
	if addr.AccountAddress != body.DomiAddress {
		common.RenderMessage(w, r, http.StatusBadRequest, "Deposit address owner mismatch")
		return
	}
	go func() {
		ctx := context.WithoutCancel(r.Context())
		err := node.WatchTransaction(ctx, body.TxHash, addr.MultiAddress)
		logger.Printf("node.WatchTransaction(%s, %s) => %v", body.TxHash, addr.MultiAddress, err)
	}()
	common.RenderOK(w, r, map[string]any{"tx_hash": body.TxHash})
}

// renderBridgeError shows domain failures to the client and hides the
// rest, wallet tool output may carry key material.
func renderBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *VerificationError
	var bnb *BurnedNotBroadcastError
	switch {
	case errors.As(err, &ve):
		common.RenderMessage(w, r, http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrMintNotFound):
		common.RenderMessage(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrAmountBelowDust), errors.Is(err, ErrBalanceTooLow), errors.Is(err, ErrNoKMSKeys):
		common.RenderMessage(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &bnb):
		logger.Printf("renderBridgeError(%s) => %v", r.URL.Path, err)
		common.RenderMessage(w, r, http.StatusInternalServerError, fmt.Sprintf("burned %s but not broadcast, contact the operator", bnb.Signature))
	default:
		common.RenderError(w, r, err)
	}
}
