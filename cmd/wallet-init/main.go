package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/spirachain/wallet-bridge/internal/keystore"
)

func main() {
	path := flag.String("wallet", "wallet.json", "path to the wallet file to create")
	flag.Parse()

	store := keystore.NewFileStore(*path)
	result, err := store.Create()
	if err != nil {
		if errors.Is(err, keystore.ErrWalletExists) {
			fmt.Fprintf(os.Stderr, "refusing to overwrite existing wallet at %s\n", *path)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "create wallet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wallet created at %s\n", *path)
	fmt.Printf("address: %s\n\n", result.Address)
	fmt.Println("recovery mnemonic (shown once, store it securely):")
	fmt.Println(result.Mnemonic)
}
