package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/da"
	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/sequencer"
	"github.com/Bidon15/fontana/internal/types"
)

// HTTPServer is the thin transport over the node: transaction ingest plus
// read-only chain queries.
type HTTPServer struct {
	sequencer *sequencer.Sequencer
	ledger    *ledger.Ledger
	store     *db.Storage
	port      string
	jwtSecret string
}

func NewHTTPServer(seq *sequencer.Sequencer, l *ledger.Ledger, store *db.Storage, port, jwtSecret string) *HTTPServer {
	return &HTTPServer{
		sequencer: seq,
		ledger:    l,
		store:     store,
		port:      port,
		jwtSecret: jwtSecret,
	}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	r := gin.Default()

	v1 := r.Group("/api/v1")
	v1.GET("/block/latest", hs.handleLatestBlock)
	v1.GET("/block/:height", hs.handleBlockByHeight)
	v1.GET("/balance/:address", hs.handleBalance)
	v1.GET("/state_root", hs.handleStateRoot)
	v1.GET("/receipt/:txid", hs.handleReceipt)
	v1.GET("/withdrawal/:burnTxid", hs.handleWithdrawal)

	ingest := v1.Group("")
	if hs.jwtSecret != "" {
		ingest.Use(jwtAuthMiddleware(hs.jwtSecret))
	}
	ingest.POST("/tx", hs.handleSubmitTx)

	srv := &http.Server{
		Addr:    ":" + hs.port,
		Handler: r,
	}

	go func() {
		log.Infof("HTTP server is running on port %s", hs.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}
	log.Info("HTTP server stopped")
}

// handleSubmitTx accepts a canonical signed transaction. The response
// carries a provisional receipt: the transaction is applied and locally
// durable, DA commitment follows asynchronously.
func (hs *HTTPServer) handleSubmitTx(c *gin.Context) {
	var tx types.SignedTransaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transaction: " + err.Error()})
		return
	}

	if err := hs.sequencer.SubmitTransaction(c.Request.Context(), &tx); err != nil {
		status, code := errStatus(err)
		c.JSON(status, gin.H{"error": err.Error(), "code": code})
		return
	}

	resp := gin.H{"txid": tx.TxID, "status": "applied"}
	if latest, err := hs.store.GetLatestBlock(); err == nil {
		resp["provisional_receipt"] = gin.H{
			"local_block_height": latest.Height,
			"state_root":         latest.StateRoot,
			"da_committed":       latest.DaCommitted,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func errStatus(err error) (int, string) {
	var vErr *ledger.ValidationError
	if errors.As(err, &vErr) {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return http.StatusPaymentRequired, "insufficient_funds"
		case errors.Is(err, ledger.ErrInvalidSignature):
			return http.StatusBadRequest, "invalid_signature"
		case errors.Is(err, ledger.ErrInputNotFound):
			return http.StatusBadRequest, "input_not_found"
		case errors.Is(err, ledger.ErrInputAlreadySpent):
			return http.StatusConflict, "input_already_spent"
		case errors.Is(err, ledger.ErrConservationViolation):
			return http.StatusBadRequest, "conservation_violation"
		default:
			return http.StatusBadRequest, "malformed_transaction"
		}
	}
	return http.StatusInternalServerError, "storage_error"
}

func (hs *HTTPServer) handleLatestBlock(c *gin.Context) {
	block, err := hs.store.GetLatestBlock()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no blocks"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, block)
}

func (hs *HTTPServer) handleBlockByHeight(c *gin.Context) {
	height, err := strconv.ParseUint(c.Param("height"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid height"})
		return
	}
	rec, err := hs.store.GetBlockByHeight(height)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	block, err := da.AssembleBlock(hs.store, rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"block":        block,
		"da_committed": rec.DaCommitted,
		"blob_ref":     rec.BlobRef,
	})
}

func (hs *HTTPServer) handleBalance(c *gin.Context) {
	balance, err := hs.ledger.GetBalance(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "balance": balance})
}

func (hs *HTTPServer) handleStateRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state_root": hs.ledger.GetCurrentStateRoot()})
}

func (hs *HTTPServer) handleReceipt(c *gin.Context) {
	receipt, err := hs.store.GetReceiptByTxid(c.Param("txid"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (hs *HTTPServer) handleWithdrawal(c *gin.Context) {
	w, err := hs.store.GetVaultWithdrawal(c.Param("burnTxid"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "withdrawal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}
