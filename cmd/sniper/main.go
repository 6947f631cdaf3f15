package main

import (
	"context"
	"os"
	"os/signal"
	"turmasniper/cmd/sniper/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	commands.ExecuteContext(ctx)
}
