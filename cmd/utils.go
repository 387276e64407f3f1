package cmd

import (
	"flag"
	"log"

	"toolbridge/internal/registry"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func BuildRegistry(resourcesDir string) *registry.Registry {
	reg := registry.New()
	for _, adapter := range registry.DefaultAdapters(resourcesDir) {
		if err := reg.Register(adapter); err != nil {
			log.Fatalf("Failed to register processor %s: %v", adapter.Tool, err)
		}
	}
	return reg
}
