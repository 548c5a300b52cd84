package main

import (
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/cli"
)

func main() {
	cli.Execute()
}
