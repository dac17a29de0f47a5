package main

import (
	"fmt"

	_ "github.com/agentuity/go-resilience/env"
	_ "github.com/agentuity/go-resilience/eventing"
	_ "github.com/agentuity/go-resilience/logger"
	_ "github.com/agentuity/go-resilience/mask"
	_ "github.com/agentuity/go-resilience/resilience"
	_ "github.com/agentuity/go-resilience/telemetry"
	_ "github.com/agentuity/go-resilience/tui"
)

func main() {
	fmt.Println("Hi")
}
