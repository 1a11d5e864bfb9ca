package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backtide-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  run        Run one moving-average backtest\n")
		fmt.Fprintf(os.Stderr, "  sweep      Backtest every buy/sell window combination\n")
		fmt.Fprintf(os.Stderr, "  report     Print a performance report for a date range\n")
		fmt.Fprintf(os.Stderr, "  symbols    List symbols with stored prices\n")
		fmt.Fprintf(os.Stderr, "  runs       List recorded backtest runs\n")
		fmt.Fprintf(os.Stderr, "  fetch      Download daily bars from Alpaca into the local store\n")
		fmt.Fprintf(os.Stderr, "\nRemote commands talk to $BACKTIDE_SERVER (default %s).\n", defaultServer)
		fmt.Fprintf(os.Stderr, "Run 'backtide-cli <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "version":
		fmt.Printf("backtide-cli %s\n", version)
	case "run":
		err = runCmd(args)
	case "sweep":
		err = sweepCmd(args)
	case "report":
		err = reportCmd(args)
	case "symbols":
		err = symbolsCmd(args)
	case "runs":
		err = runsCmd(args)
	case "fetch":
		err = fetchCmd(args)
	case "-h", "--help", "help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
