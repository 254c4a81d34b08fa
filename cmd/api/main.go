package main

import (
	"go.uber.org/fx"

	"github.com/orderdeck/orderdeck/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
