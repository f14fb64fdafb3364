package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mvandenbrink/respkv/app/redisd"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:6379", "address to listen on")
	flag.Parse()

	srv := redisd.NewServer(*addr)
	if err := srv.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "redisd:", err)
		os.Exit(1)
	}
}
