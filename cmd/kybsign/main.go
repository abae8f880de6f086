// kybsign manages KYB validator signing keys and produces investor
// credentials accepted by the settlement daemon.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/web5lab/payout-ai/config"
	"github.com/web5lab/payout-ai/crypto"
	"github.com/web5lab/payout-ai/native/invest"
)

const passEnv = "KYB_VALIDATOR_PASS"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "new":
		runNew(os.Args[2:])
	case "address":
		runAddress(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  kybsign new     -keystore <path>
  kybsign address -keystore <path>
  kybsign sign    -keystore <path> -chain <id> -manager <hex> -investor <hex> -nonce <n> -expiry <unix>

The keystore passphrase is read from the KYB_VALIDATOR_PASS environment
variable (empty when unset).`)
}

func passphrase() string {
	return os.Getenv(passEnv)
}

func runNew(args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	keystorePath := fs.String("keystore", "./kyb-validator.json", "Keystore file to create")
	_ = fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fatal("generate key: %v", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, passphrase()); err != nil {
		fatal("save keystore: %v", err)
	}
	addr := key.PubKey().Address()
	fmt.Printf("keystore: %s\naddress:  %s\nhex:      %s\n",
		*keystorePath, addr.String(), hex.EncodeToString(addr.Bytes()))
}

func runAddress(args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := fs.String("keystore", "./kyb-validator.json", "Keystore file to read")
	_ = fs.Parse(args)

	key, err := crypto.LoadFromKeystore(*keystorePath, passphrase())
	if err != nil {
		fatal("load keystore: %v", err)
	}
	addr := key.PubKey().Address()
	fmt.Printf("address: %s\nhex:     %s\n", addr.String(), hex.EncodeToString(addr.Bytes()))
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keystorePath := fs.String("keystore", "./kyb-validator.json", "Keystore file to read")
	chainID := fs.Uint64("chain", 4217, "Chain identifier the credential is bound to")
	managerHex := fs.String("manager", "", "Hex address of the investment manager module")
	investorHex := fs.String("investor", "", "Hex address of the approved investor")
	nonce := fs.Uint64("nonce", 0, "Single-use credential nonce")
	expiry := fs.Int64("expiry", 0, "Unix expiry timestamp")
	_ = fs.Parse(args)

	if strings.TrimSpace(*managerHex) == "" || strings.TrimSpace(*investorHex) == "" {
		fatal("manager and investor addresses are required")
	}
	manager, err := config.ParseAddress(*managerHex)
	if err != nil {
		fatal("manager: %v", err)
	}
	investor, err := config.ParseAddress(*investorHex)
	if err != nil {
		fatal("investor: %v", err)
	}
	if *expiry <= 0 {
		fatal("expiry must be a future unix timestamp")
	}

	key, err := crypto.LoadFromKeystore(*keystorePath, passphrase())
	if err != nil {
		fatal("load keystore: %v", err)
	}

	credential := invest.Credential{
		Domain:   invest.CredentialDomain,
		ChainID:  *chainID,
		Manager:  manager,
		Investor: investor,
		Nonce:    *nonce,
		Expiry:   *expiry,
	}
	digest := credential.Hash()
	sig, err := key.Sign(digest[:])
	if err != nil {
		fatal("sign: %v", err)
	}
	fmt.Printf("digest:    %s\nsignature: %s\n",
		hex.EncodeToString(digest[:]), hex.EncodeToString(sig))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
