// Package main provides capwallet, a one-shot CLI over a local wallet.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cap-protocol/cap-wallet/internal/config"
	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletbackend"
	"github.com/cap-protocol/cap-wallet/internal/walletcore"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
	"github.com/cap-protocol/cap-wallet/internal/walletstore"
	"github.com/cap-protocol/cap-wallet/pkg/helpers"
	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

var version = "0.1.0-dev"

// displayDecimals is the number of fractional digits the CLI shows for
// record amounts; the ledger itself only ever deals in raw uint64 units.
const displayDecimals = 6

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.cap-wallet", "Data directory")
		backendURL     = flag.String("backend", "", "Validator websocket URL (empty uses an in-memory backend)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
		importMnemonic = flag.String("import-mnemonic", "", "Recover the user, auditor and freezer key pairs from a 24-word phrase instead of generating new ones")
		mnemonicPasswd = flag.String("mnemonic-passphrase", "", "Optional BIP39 passphrase for -import-mnemonic")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("capwallet %s", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}

	password := readPassword()

	store, err := walletstore.Open(walletstore.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("failed to open encrypted store", "error", err)
	}
	defer store.Close()

	if err := store.Unlock(password); err != nil {
		log.Fatal("failed to unlock store", "error", err)
	}

	userKey, auditorKey, freezerKey, provingKeys, isNew, mnemonic, err := loadOrCreateIdentity(store, *importMnemonic, *mnemonicPasswd)
	if err != nil {
		log.Fatal("failed to load wallet identity", "error", err)
	}
	if isNew {
		log.Info("generated a new wallet identity", "address", userKey.Address())
		if mnemonic != "" {
			fmt.Fprintf(os.Stderr, "recovery phrase (write this down, it will not be shown again):\n%s\n", mnemonic)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := dialBackend(ctx, cfg.Backend.URL)
	if err != nil {
		log.Fatal("failed to connect to backend", "error", err)
	}
	if mb, ok := be.(*walletbackend.MemoryBackend); ok {
		mb.RegisterAddress(userKey.PubKey())
	}

	w, err := walletcore.Open(ctx, be, userKey, auditorKey, freezerKey, provingKeys)
	if err != nil {
		log.Fatal("failed to open wallet", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runCommand(ctx, w, cmd, rest); err != nil {
		log.Error("command failed", "command", cmd, "error", err)
		persist(store, w, log)
		w.Close()
		os.Exit(1)
	}

	persist(store, w, log)
	w.Close()
}

func dialBackend(ctx context.Context, url string) (walletbackend.Backend, error) {
	if url == "" {
		return walletbackend.NewMemoryBackend(), nil
	}
	return walletbackend.DialWSBackend(ctx, walletbackend.WSConfig{URL: url})
}

func persist(store *walletstore.Store, w *walletcore.Wallet, log *logging.Logger) {
	snap, _ := w.Snapshot()
	if err := store.SaveDynamic(snap); err != nil {
		log.Error("failed to save dynamic state", "error", err)
		return
	}
	if err := store.Commit(); err != nil {
		log.Error("failed to commit encrypted store", "error", err)
	}
}

// loadOrCreateIdentity loads a previously persisted identity, or creates a
// new one: either recovered from importMnemonic (if non-empty) or freshly
// generated, in which case the returned mnemonic must be shown to the user
// once and never stored.
func loadOrCreateIdentity(store *walletstore.Store, importMnemonic, mnemonicPassphrase string) (ledger.UserKeyPair, ledger.AuditorKeyPair, ledger.FreezerKeyPair, ledger.ProvingKeySet, bool, string, error) {
	zero := func(err error) (ledger.UserKeyPair, ledger.AuditorKeyPair, ledger.FreezerKeyPair, ledger.ProvingKeySet, bool, string, error) {
		return ledger.UserKeyPair{}, ledger.AuditorKeyPair{}, ledger.FreezerKeyPair{}, ledger.ProvingKeySet{}, false, "", err
	}

	static, err := store.LoadStatic()
	if err == nil {
		return static.UserKeyPair, static.AuditorKeyPair, static.FreezerKeyPair, static.ProvingKeys, false, "", nil
	}
	if err != walletstore.ErrNotExist {
		return zero(err)
	}

	mnemonic := importMnemonic
	if mnemonic == "" {
		mnemonic, err = walletcore.GenerateMnemonic()
		if err != nil {
			return zero(err)
		}
	}
	keys, err := walletcore.LoadFromMnemonic(mnemonic, mnemonicPassphrase)
	if err != nil {
		return zero(err)
	}
	userKey, auditorKey, freezerKey := keys.UserKey, keys.AuditorKey, keys.FreezerKey
	provingKeys := walletcore.DevProvingKeys()
	if importMnemonic != "" {
		mnemonic = ""
	}

	static = walletstate.StaticState{
		UserKeyPair:    userKey,
		AuditorKeyPair: auditorKey,
		FreezerKeyPair: freezerKey,
		ProvingKeys:    provingKeys,
	}
	if err := store.SaveStatic(static); err != nil {
		return zero(err)
	}
	if err := store.Commit(); err != nil {
		return zero(err)
	}
	return userKey, auditorKey, freezerKey, provingKeys, true, mnemonic, nil
}

func runCommand(ctx context.Context, w *walletcore.Wallet, cmd string, args []string) error {
	switch cmd {
	case "address":
		fmt.Println(w.PubKey().Address())
		return nil
	case "pubkey":
		fmt.Println(w.PubKey())
		return nil
	case "balance":
		asset, err := parseAssetArg(args, 0)
		if err != nil {
			return err
		}
		fmt.Println(helpers.FormatAmount(w.Balance(asset), displayDecimals))
		return nil
	case "frozen-balance":
		asset, err := parseAssetArg(args, 0)
		if err != nil {
			return err
		}
		fmt.Println(helpers.FormatAmount(w.FrozenBalance(asset), displayDecimals))
		return nil
	case "transfer":
		return cmdTransfer(ctx, w, args)
	case "mint":
		return cmdMint(ctx, w, args)
	case "freeze":
		return cmdFreezeOrUnfreeze(ctx, w, args, true)
	case "unfreeze":
		return cmdFreezeOrUnfreeze(ctx, w, args, false)
	case "sync":
		return cmdSync(ctx, w, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// cmdTransfer expects: <asset> <fee> <addr1>:<amount1> [addr2:amount2 ...]
func cmdTransfer(ctx context.Context, w *walletcore.Wallet, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: transfer <asset> <fee> <addr:amount>...")
	}
	asset, err := parseAsset(args[0])
	if err != nil {
		return err
	}
	fee, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid fee: %w", err)
	}
	receivers := make([]walletcore.Receiver, 0, len(args)-2)
	for _, r := range args[2:] {
		parts := strings.SplitN(r, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid receiver %q, want addr:amount", r)
		}
		addr, err := parseAddress(parts[0])
		if err != nil {
			return err
		}
		amount, err := helpers.ParseAmount(parts[1], displayDecimals)
		if err != nil {
			return fmt.Errorf("invalid amount in %q: %w", r, err)
		}
		receivers = append(receivers, walletcore.Receiver{Address: addr, Amount: amount})
	}
	return w.Transfer(ctx, asset, receivers, fee)
}

// cmdMint expects: <asset> <amount> <owner> <fee>
func cmdMint(ctx context.Context, w *walletcore.Wallet, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: mint <asset> <amount> <owner> <fee>")
	}
	asset, err := parseAsset(args[0])
	if err != nil {
		return err
	}
	amount, err := helpers.ParseAmount(args[1], displayDecimals)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	owner, err := parseAddress(args[2])
	if err != nil {
		return err
	}
	fee, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid fee: %w", err)
	}
	return w.Mint(ctx, asset, amount, owner, fee)
}

// cmdFreezeOrUnfreeze expects: <asset> <owner> <amount> <fee>
func cmdFreezeOrUnfreeze(ctx context.Context, w *walletcore.Wallet, args []string, freeze bool) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: freeze|unfreeze <asset> <owner> <amount> <fee>")
	}
	asset, err := parseAsset(args[0])
	if err != nil {
		return err
	}
	owner, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	amount, err := helpers.ParseAmount(args[2], displayDecimals)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	fee, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid fee: %w", err)
	}
	if freeze {
		return w.FreezeRecords(ctx, asset, owner, amount, fee)
	}
	return w.UnfreezeRecords(ctx, asset, owner, amount, fee)
}

// cmdSync expects: <target-tick>, and blocks until the wallet's local
// clock reaches it or the context is cancelled.
func cmdSync(ctx context.Context, w *walletcore.Wallet, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sync <target-tick>")
	}
	target, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid target tick: %w", err)
	}
	select {
	case <-w.Sync(target):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseAssetArg(args []string, i int) (ledger.AssetCode, error) {
	if len(args) <= i {
		return ledger.AssetCode{}, fmt.Errorf("missing asset argument")
	}
	return parseAsset(args[i])
}

func parseAsset(s string) (ledger.AssetCode, error) {
	if s == "native" || s == "" {
		return ledger.NativeAssetCode, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return ledger.AssetCode{}, fmt.Errorf("invalid asset code %q: want 32 hex bytes or \"native\"", s)
	}
	var code ledger.AssetCode
	copy(code[:], b)
	return code, nil
}

func parseAddress(s string) (ledger.UserAddress, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return ledger.UserAddress{}, fmt.Errorf("invalid address %q: want 20 hex bytes", s)
	}
	var addr ledger.UserAddress
	copy(addr[:], b)
	return addr, nil
}

// readPassword reads the wallet password from CAP_WALLET_PASSWORD if set,
// otherwise prompts on stdin.
func readPassword() string {
	if p := os.Getenv("CAP_WALLET_PASSWORD"); p != "" {
		return p
	}
	fmt.Fprint(os.Stderr, "wallet password: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func usage() {
	fmt.Fprintln(os.Stderr, `capwallet: a client-side wallet for a confidential asset ledger

Usage:
  capwallet [flags] <command> [args]

Commands:
  address                                   print this wallet's address
  pubkey                                    print this wallet's public key
  balance <asset>                           print spendable balance
  frozen-balance <asset>                    print frozen balance
  transfer <asset> <fee> <addr:amount>...   send to one or more receivers
  mint <asset> <amount> <owner> <fee>       mint a defined asset
  freeze <asset> <owner> <amount> <fee>     freeze owner's records
  unfreeze <asset> <owner> <amount> <fee>   release a freeze
  sync <target-tick>                        block until caught up

Amounts and balances are decimal strings with up to 6 fractional digits;
fees are raw integer units.

Flags:`)
	flag.PrintDefaults()
}
