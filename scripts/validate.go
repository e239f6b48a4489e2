package main

import (
	"flag"

	"slotbook/internal/logger"
	"slotbook/internal/validation"
)

func main() {
	var baseURL string
	flag.StringVar(&baseURL, "url", "http://localhost:8081", "Base URL for API validation")
	flag.Parse()

	logger.Init("INFO", "text")
	logger.Get().Info("Starting API validation", "url", baseURL)

	validator := validation.NewSmokeValidator(baseURL, nil)
	if err := validator.ValidateAll(); err != nil {
		logger.Fatal("Validation failed", "error", err)
	}

	logger.Get().Info("Validation passed")
}
