// Command venue runs the venue website backend.
//
//	venue serve                 # HTTP server
//	venue resend FILE...        # re-notify saved submissions
//	venue purge-idempotency     # drop expired Idempotency-Key records
//
// @title       Venue Backend API
// @version     1.0
// @description Contact and booking inquiry intake for the venue website.
// @BasePath    /api
package main

import (
	"os"

	"github.com/tbourn/go-venue-backend/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return cli.Execute(cli.DefaultOptions(), args)
}
