package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/pismenka-api/internal/domain"
	"github.com/pismenka-api/internal/words"
)

var playerNames = []string{
	"Eva", "Adam", "Petr", "Jana", "Tomáš", "Lucie", "Martin", "Tereza", "Jakub", "Klára",
	"Ondřej", "Barbora", "Lukáš", "Veronika", "Filip", "Markéta", "David", "Zuzana", "Vojtěch", "Anna",
}

func playerName(idx int) string {
	return fmt.Sprintf("%s%d", playerNames[idx%len(playerNames)], idx/len(playerNames)+1)
}

// submission makes a plausible finished game. Lower player indexes are
// better players.
func submission(word string, idx, players int) domain.Submission {
	skill := float64(idx) / float64(players)
	moves := 4 + rand.Intn(6) + int(skill*30)
	seconds := 20 + rand.Intn(40) + int(skill*600)
	return domain.Submission{
		Word:          word,
		Moves:         moves,
		TimeSeconds:   seconds,
		PlayerName:    playerName(idx),
		OriginAddress: fmt.Sprintf("198.51.100.%d", idx%250+1),
		ClientAgent:   "result-producer",
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "pismenka-results", "Kafka topic")
	word := flag.String("word", "", "Word to submit (default: today's word from the list)")
	totalPlayers := flag.Int("players", 200, "Number of distinct players")
	perSecond := flag.Int("rate", 5, "Results per second")
	duration := flag.Duration("duration", time.Minute, "Duration to run (0 = until interrupted)")
	flag.Parse()

	if *word == "" {
		*word = words.Daily(time.Now())
	}
	if *perSecond <= 0 {
		*perSecond = 1
	}
	if *totalPlayers <= 0 {
		*totalPlayers = 1
	}

	fmt.Println("Písmenka result producer")
	fmt.Printf("  brokers: %s\n  topic:   %s\n  word:    %s\n  players: %d\n  rate:    %d/s\n\n",
		*brokers, *topic, *word, *totalPlayers, *perSecond)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	finish := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*perSecond))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			finish("Interrupted, shutting down...")
			return

		case <-deadline:
			finish("Duration reached, shutting down...")
			return

		case <-ticker.C:
			sub := submission(*word, rand.Intn(*totalPlayers), *totalPlayers)
			data, err := json.Marshal(sub)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(sub.PlayerName),
				Value: sarama.ByteEncoder(data),
			}
		}
	}
}
