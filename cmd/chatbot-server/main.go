// Package main Chiba Chatbot API Server
//
//	@title			Chiba Chatbot API
//	@version		1.0
//	@description	A retrieval-augmented chatbot API answering questions about Chiba prefecture services
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io
//
//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@externalDocs.description	OpenAPI
//	@externalDocs.url			https://swagger.io/resources/open-api/
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"chiba-chatbot/config"
	_ "chiba-chatbot/docs" // This imports the docs package to initialize swagger
	"chiba-chatbot/internal/server"
)

func main() {
	ingest := flag.Bool("ingest", false, "fetch the source pages, build the vector index, and exit")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *ingest {
		runIngest(cfg)
		return
	}

	log.Println("Starting Chatbot Server...")
	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to configure server: %v", err)
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runIngest rebuilds the vector index from the configured source URLs.
// The existing collection is only replaced once every chunk has been
// embedded, so a provider failure leaves the old index untouched.
func runIngest(cfg *config.Config) {
	ingestService, indexService, err := server.NewIndexBuilder(cfg)
	if err != nil {
		log.Fatalf("Failed to configure ingestion: %v", err)
	}

	ctx := context.Background()

	chunks, err := ingestService.IngestAll(ctx)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	if err := indexService.Build(ctx, chunks); err != nil {
		log.Fatalf("Index build failed: %v", err)
	}

	log.Printf("Index built: %d chunks in collection %q", len(chunks), indexService.Collection())
}
