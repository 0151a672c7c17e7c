// Command brokerctl submits paid broker jobs from the shell.
//
// Usage:
//
//	brokerctl run -code 'print(1)' [-language python] [-stdin text]
//	brokerctl run -file script.py [-language python]
//	brokerctl store -file report.pdf [-name report.pdf] [-content-type application/pdf]
//	brokerctl cache -key k -value v [-ttl 60]
//	brokerctl fee 0.01
//	brokerctl revoke -network base-sepolia -spender 0x... -asset 0x... -payer 0x...
//
// Wallet and broker settings come from the environment (see .env).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	x402 "github.com/brokerdash/x402pay"
)

const usage = `usage: brokerctl <command> [flags]

commands:
  run     run code on the broker
  store   upload a file
  cache   write a cache entry
  fee     quote the relay fee for an amount
  revoke  clear the allowance granted to a payee
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newEnv)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		var pe *x402.PaymentError
		if errors.As(err, &pe) {
			fmt.Fprintf(os.Stderr, "payment failed (%s): %s\n", pe.Code, pe.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// envFactory builds the wallet-backed environment on first use so that
// free commands need no configuration
type envFactory func(ctx context.Context, stderr io.Writer) (*env, error)

func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory envFactory) error {
	if len(args) == 0 {
		return errUsage
	}
	name, args := args[0], args[1:]

	switch name {
	case "fee":
		return feeCommand(args, stdout)
	case "run", "store", "cache", "revoke":
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	req, err := parseCommand(name, args, stderr)
	if err != nil {
		return err
	}

	e, err := factory(ctx, stderr)
	if err != nil {
		return err
	}
	defer e.Close()
	return req.execute(ctx, e, stdout)
}
