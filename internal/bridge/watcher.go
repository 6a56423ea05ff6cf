package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/db"
)

// vaultDenom is the L1 denomination deposits are counted in; one utia is
// the smallest TIA unit the ledger tracks.
const vaultDenom = "utia"

const txSearchPageSize = 50

// L1Client is the slice of the CometBFT RPC surface the watcher needs.
type L1Client interface {
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	TxSearch(ctx context.Context, query string, prove bool, page, perPage *int, orderBy string) (*ctypes.ResultTxSearch, error)
}

// VaultWatcher polls the L1 chain for transfers into the vault address and
// feeds them to the bridge handler. The scan watermark lives in
// system_vars, so restarts resume where the last scan stopped.
type VaultWatcher struct {
	client        L1Client
	handler       *Handler
	store         *db.Storage
	vault         string
	pollInterval  time.Duration
	confirmations int64
	startHeight   int64
}

func NewVaultWatcher(client L1Client, handler *Handler, store *db.Storage, vault string, pollInterval time.Duration, confirmations int64, startHeight int64) *VaultWatcher {
	return &VaultWatcher{
		client:        client,
		handler:       handler,
		store:         store,
		vault:         vault,
		pollInterval:  pollInterval,
		confirmations: confirmations,
		startHeight:   startHeight,
	}
}

// DialL1 connects to a CometBFT RPC endpoint.
func DialL1(nodeURL string) (L1Client, error) {
	client, err := rpchttp.New(nodeURL, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("dial L1 node %s: %w", nodeURL, err)
	}
	return client, nil
}

func (w *VaultWatcher) Start(ctx context.Context) {
	log.Infof("Vault watcher started for %s, poll interval %v", w.vault, w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				log.Warnf("Vault scan failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Vault watcher stopped")
			return
		}
	}
}

func (w *VaultWatcher) scan(ctx context.Context) error {
	status, err := w.client.Status(ctx)
	if err != nil {
		return err
	}
	confirmedTip := status.SyncInfo.LatestBlockHeight - w.confirmations

	last, err := w.watermark()
	if err != nil {
		return err
	}
	if confirmedTip <= last {
		return nil
	}

	query := fmt.Sprintf("transfer.recipient='%s' AND tx.height>%d AND tx.height<=%d", w.vault, last, confirmedTip)
	for page := 1; ; page++ {
		pg, perPage := page, txSearchPageSize
		res, err := w.client.TxSearch(ctx, query, false, &pg, &perPage, "asc")
		if err != nil {
			return err
		}
		for _, tx := range res.Txs {
			ev, err := w.extractDeposit(tx)
			if err != nil {
				log.Warnf("Skipping L1 tx %s: %v", tx.Hash.String(), err)
				continue
			}
			if err := w.handler.HandleDepositReceived(*ev); err != nil {
				// do not advance the watermark past an unprocessed deposit
				return err
			}
		}
		if page*txSearchPageSize >= res.TotalCount {
			break
		}
	}

	return w.store.SetSystemVar(db.SYSVAR_LAST_L1_SCANNED, strconv.FormatInt(confirmedTip, 10))
}

func (w *VaultWatcher) watermark() (int64, error) {
	raw, err := w.store.GetSystemVar(db.SYSVAR_LAST_L1_SCANNED)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return w.startHeight, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// extractDeposit turns an L1 transfer into a deposit event. The rollup
// recipient rides in the tx memo; the amount comes from the transfer event.
func (w *VaultWatcher) extractDeposit(res *ctypes.ResultTx) (*DepositEvent, error) {
	amount, err := w.transferAmount(res.TxResult.Events)
	if err != nil {
		return nil, err
	}

	memo, err := txMemo(res.Tx)
	if err != nil {
		return nil, err
	}
	if memo == "" {
		return nil, fmt.Errorf("deposit has no rollup recipient memo")
	}

	return &DepositEvent{
		L1TxHash:  res.Hash.String(),
		Recipient: memo,
		Amount:    amount,
		L1Height:  uint64(res.Height),
	}, nil
}

func (w *VaultWatcher) transferAmount(events []abci.Event) (uint64, error) {
	for _, ev := range events {
		if ev.Type != "transfer" {
			continue
		}
		var recipient, amountStr string
		for _, attr := range ev.Attributes {
			switch attr.Key {
			case "recipient":
				recipient = attr.Value
			case "amount":
				amountStr = attr.Value
			}
		}
		if recipient != w.vault {
			continue
		}
		coins, err := sdk.ParseCoinsNormalized(amountStr)
		if err != nil {
			return 0, fmt.Errorf("parse transfer amount %q: %w", amountStr, err)
		}
		amount := coins.AmountOf(vaultDenom)
		if amount.IsZero() {
			return 0, fmt.Errorf("transfer carries no %s", vaultDenom)
		}
		return amount.Uint64(), nil
	}
	return 0, fmt.Errorf("no transfer event to vault")
}

// txMemo decodes the memo out of a raw cosmos transaction.
func txMemo(rawTx []byte) (string, error) {
	var raw txtypes.TxRaw
	if err := raw.Unmarshal(rawTx); err != nil {
		return "", fmt.Errorf("decode tx: %w", err)
	}
	var body txtypes.TxBody
	if err := body.Unmarshal(raw.BodyBytes); err != nil {
		return "", fmt.Errorf("decode tx body: %w", err)
	}
	return body.Memo, nil
}
