package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/christian-oudard/signal-cli/internal/accountdir"
	"github.com/christian-oudard/signal-cli/internal/daemon"
)

func main() {
	accountFlag := flag.String("account", "", "account number (overrides config default)")
	registerFlag := flag.String("register-aci", "", "seed a registered account with this ACI (in-memory stack only)")
	flag.Parse()

	account := accountdir.Resolve(*accountFlag)
	if err := accountdir.ValidateName(account); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Account: account, RegisterACI: *registerFlag}),
	)

	app.Run()
}
