// Command microsim runs the reference junction engine as a standalone
// process speaking the JSON-line control protocol over TCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smarttraffic/dualsim/infra/logger"
	"github.com/smarttraffic/dualsim/internal/microsim"
)

func main() {
	var (
		listen  = flag.String("listen", "127.0.0.1:0", "listen address, port 0 picks a free port")
		seed    = flag.Int64("seed", 1, "fallback seed when a load request carries none")
		verbose = flag.Bool("verbose", false, "enable verbose logging")
	)
	flag.Parse()

	log := logger.New("microsim")
	srv, err := microsim.Listen(*listen, *seed, *verbose, log)
	if err != nil {
		log.Errorf("listen on %s: %v", *listen, err)
		os.Exit(1)
	}
	// The launcher reads this line from stdout to learn the bound port.
	fmt.Printf("LISTEN %s\n", srv.Addr())
	if *verbose {
		log.Infof("microsim %s listening on %s", microsim.Version, srv.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	if err := srv.Close(); err != nil {
		log.Errorf("close: %v", err)
	}
}
