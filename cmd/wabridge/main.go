// Command wabridge はWhatsAppセッションをHTTP/WebSocketで公開するリレーサーバー。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/wabridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "wabridge: %v\n", err)
		os.Exit(1)
	}
}
