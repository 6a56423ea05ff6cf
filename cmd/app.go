package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/bridge"
	"github.com/Bidon15/fontana/internal/config"
	"github.com/Bidon15/fontana/internal/da"
	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/http"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/sequencer"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	EventBus        *state.EventBus
	Ledger          *ledger.Ledger
	Sequencer       *sequencer.Sequencer
	DAPoster        *da.Poster
	BridgeHandler   *bridge.Handler
	VaultWatcher    *bridge.VaultWatcher
	ProofProcessor  *bridge.ProofProcessor
	HTTPServer      *http.HTTPServer
}

func NewApplication() *Application {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	config.InitConfig()
	cfg := config.AppConfig

	dbm := db.NewDatabaseManager(cfg.DBPath)
	store := db.NewStorage(dbm)
	bus := state.NewEventBus()

	ldg, err := ledger.New(store, cfg.HistoricalRootsKept, bus)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	if cfg.GenesisFile != "" {
		genesis, err := types.LoadGenesisFile(cfg.GenesisFile)
		if err != nil {
			log.Fatalf("Failed to load genesis file: %v", err)
		}
		if err := ldg.LoadGenesis(genesis); err != nil {
			log.Fatalf("Failed to apply genesis: %v", err)
		}
	}
	if _, err := store.GetLatestBlock(); errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("No local chain and no genesis file configured; set GENESIS_FILE")
	}

	// continuing with a commitment that disagrees with the UTXO table would
	// corrupt every block from here on
	if err := ldg.CheckIntegrity(); err != nil {
		log.Fatalf("State divergence detected at startup: %v", err)
	}

	seq := sequencer.NewSequencer(ldg, store, bus, cfg.BlockInterval, cfg.MaxBatch)

	daClient, err := da.NewCelestiaClient(context.Background(), cfg.DANodeURL, cfg.DAAuthToken)
	if err != nil {
		log.Fatalf("Failed to create DA client: %v", err)
	}
	poster := da.NewPoster(store, daClient, cfg.DANamespace, bus)

	handler := bridge.NewHandler(ldg, store, bus)
	proofProcessor := bridge.NewProofProcessor(ldg, store, bus)

	var watcher *bridge.VaultWatcher
	if cfg.L1VaultAddress != "" {
		l1Client, err := bridge.DialL1(cfg.L1NodeURL)
		if err != nil {
			log.Fatalf("Failed to connect to L1 node: %v", err)
		}
		watcher = bridge.NewVaultWatcher(l1Client, handler, store,
			cfg.L1VaultAddress, cfg.L1PollInterval, int64(cfg.L1Confirmations), cfg.L1StartHeight)
	} else {
		log.Warn("No L1 vault address configured, deposit watching disabled")
	}

	httpServer := http.NewHTTPServer(seq, ldg, store, cfg.HTTPPort, cfg.HTTPJwtSecret)

	return &Application{
		DatabaseManager: dbm,
		EventBus:        bus,
		Ledger:          ldg,
		Sequencer:       seq,
		DAPoster:        poster,
		BridgeHandler:   handler,
		VaultWatcher:    watcher,
		ProofProcessor:  proofProcessor,
		HTTPServer:      httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Sequencer.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.DAPoster.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.ProofProcessor.Start(ctx)
	}()

	if app.VaultWatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.VaultWatcher.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Node stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
