// Command keeper is the off-chain liquidation/reset bot's entrypoint:
// load env, load config, dial RPC, build collaborators, launch the
// long-running tasks, and wait for an interrupt.
package main

import (
	"context"
	"crypto/ecdsa"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/blackframe-labs/levkeeper/configs"
	"github.com/blackframe-labs/levkeeper/internal/actions"
	"github.com/blackframe-labs/levkeeper/internal/apply"
	"github.com/blackframe-labs/levkeeper/internal/decode"
	"github.com/blackframe-labs/levkeeper/internal/ingest"
	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/recorder"
	"github.com/blackframe-labs/levkeeper/internal/store"
	"github.com/blackframe-labs/levkeeper/pkg/contractclient"
	"github.com/blackframe-labs/levkeeper/pkg/txlistener"
)

var log = logx.New("main")

// liquidationManagerABI covers the one method the keeper calls (bark):
// parameter reads arrive as events, not view calls.
const liquidationManagerABI = `[
	{"type":"function","name":"bark","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"kpr","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const auctionManagerABI = `[
	{"type":"function","name":"resetAuction","stateMutability":"nonpayable",
	 "inputs":[{"name":"auctionId","type":"uint256"},{"name":"triggerer","type":"address"}],
	 "outputs":[]}
]`

const oracleABI = `[
	{"type":"function","name":"latestRoundData","stateMutability":"view",
	 "inputs":[],
	 "outputs":[
	   {"name":"roundId","type":"uint80"},
	   {"name":"answer","type":"int256"},
	   {"name":"startedAt","type":"uint256"},
	   {"name":"updatedAt","type":"uint256"},
	   {"name":"answeredInRound","type":"uint80"}
	 ]}
]`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded: %v", err)
	}

	configPath := os.Getenv("KEEPER_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		log.Error("load config: %v", err)
		os.Exit(1)
	}

	httpEth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		log.Error("dial rpc %s: %v", cfg.RPCURL, err)
		os.Exit(1)
	}

	var wsEth *ethclient.Client
	if cfg.WSURL != "" {
		wsEth, err = ethclient.Dial(cfg.WSURL)
		if err != nil {
			log.Warn("dial ws %s failed, steady state will run in polling mode: %v", cfg.WSURL, err)
			wsEth = nil
		}
	}

	mirror, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Error("open store at %s: %v", cfg.StorePath, err)
		os.Exit(1)
	}
	defer mirror.Close()

	var rec actions.Recorder = actions.NoopRecorder{}
	if cfg.MySQLDSN != "" {
		mysqlRecorder, err := recorder.NewMySQLRecorder(cfg.MySQLDSN)
		if err != nil {
			log.Error("open mysql recorder: %v", err)
			os.Exit(1)
		}
		defer mysqlRecorder.Close()
		rec = mysqlRecorder
	}

	liquidationManagerAddr := common.HexToAddress(cfg.Contracts.LiquidationManager)
	auctionManagerAddr := common.HexToAddress(cfg.Contracts.AuctionManager)
	custodianAddr := common.HexToAddress(cfg.Contracts.Custodian)
	interestManagerAddr := common.HexToAddress(cfg.Contracts.InterestManager)
	oracleAddr := common.HexToAddress(cfg.Contracts.Oracle)

	liquidationManagerClient := mustContractClient(httpEth, liquidationManagerAddr, liquidationManagerABI)
	auctionManagerClient := mustContractClient(httpEth, auctionManagerAddr, auctionManagerABI)
	oracleClient := mustContractClient(httpEth, oracleAddr, oracleABI)

	pk, keeper := loadSigner(cfg.PrivateKey)
	listener := txlistener.New(httpEth, txlistener.WithPollInterval(3*time.Second), txlistener.WithTimeout(5*time.Minute))

	resetScheduler := actions.NewResetScheduler(mirror, auctionManagerClient, pk, keeper, rec, listener)
	defer resetScheduler.Stop()

	roles := apply.ContractRoles{
		LiquidationManager: liquidationManagerAddr,
		AuctionManager:     auctionManagerAddr,
	}
	applier := apply.New(mirror, roles, resetScheduler)
	decoder := decode.New()

	pipeline := ingest.New(httpEth, wsEth, mirror, decoder, applier, ingest.Config{
		Contracts:                []common.Address{custodianAddr, liquidationManagerAddr, auctionManagerAddr, interestManagerAddr},
		PollingInterval:          time.Duration(cfg.EventMonitoring.PollingIntervalSecs) * time.Second,
		MaxLogsPerRequest:        cfg.EventMonitoring.MaxLogsPerRequest,
		BatchSize:                cfg.EventMonitoring.BatchSize,
		ColdStartBacktraceBlocks: cfg.EventMonitoring.ColdStartBacktraceBlocks,
	})

	liquidationLoop := actions.NewLiquidationLoop(
		mirror,
		oracleClient,
		liquidationManagerClient,
		pk,
		keeper,
		time.Duration(cfg.LiquidationCheckInterval)*time.Second,
		rec,
		listener,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipeline.Run(ctx); err != nil {
			log.Error("ingestion pipeline exited: %v", err)
		}
	}()
	go liquidationLoop.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
}

func mustContractClient(eth *ethclient.Client, addr common.Address, abiJSON string) contractclient.ContractClient {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		log.Error("parse ABI for %s: %v", addr.Hex(), err)
		os.Exit(1)
	}
	return contractclient.New(eth, addr, &parsed)
}

// loadSigner parses the configured hex private key, if any, and derives
// the keeper's own account address from it. A missing key leaves the
// bot able to ingest and compute but unable to submit bark/resetAuction
// transactions.
func loadSigner(hexKey string) (*ecdsa.PrivateKey, common.Address) {
	if hexKey == "" {
		log.Warn("no private_key configured: liquidation and reset actions will fail to submit")
		return nil, common.Address{}
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		log.Error("parse private key: %v", err)
		os.Exit(1)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey)
}
