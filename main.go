package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calodon/calodon/accounts"
	"github.com/calodon/calodon/activitypub"
	"github.com/calodon/calodon/bus"
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/util"
	"github.com/calodon/calodon/web"
)

const databaseFileName = "calodon.db"

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	dbPath := conf.Conf.DbPath
	if dbPath == "" {
		dbPath = util.ResolveFilePath(databaseFileName)
	}

	log.Println("Running database migrations...")
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	if err := database.RunActivityPubMigrations(); err != nil {
		log.Printf("Warning: Migration errors (may be normal if tables exist): %v", err)
	}
	log.Println("Database migrations complete")

	eventBus := bus.New()
	defer eventBus.Close()

	directory := accounts.NewDirectory(database, conf.Conf.Domain)
	service := activitypub.NewService(database, directory, eventBus)
	ingestor := activitypub.NewIngestor(database, directory, eventBus)

	if conf.Conf.WithFederation {
		dispatcher := activitypub.NewDispatcher(database, directory, eventBus)
		dispatcher.RegisterListeners()
		activitypub.StartDispatchWorker(dispatcher, time.Duration(conf.Conf.DispatchIntervalSec)*time.Second)
	}

	server := web.NewServer(conf, directory, service, ingestor)
	startServing(server)
}

func startServing(server *web.Server) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Router(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
}
