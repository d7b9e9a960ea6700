package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "tracker address")
	n := flag.Int("n", 5000, "reports to send")
	conc := flag.Int("c", 32, "concurrency")
	services := flag.Int("svc", 4, "services per report")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			report := map[string]any{"services": map[string]any{}}
			svcs := report["services"].(map[string]any)
			for s := 0; s < *services; s++ {
				name := fmt.Sprintf("svc-%d-%d", i%*conc, s)
				svcs[name] = map[string]any{
					"endpoint": fmt.Sprintf("http://10.0.%d.%d:9000", i%*conc, s),
					"seq":      i,
				}
			}
			payload, _ := json.Marshal(report)
			resp, _ := client.Post(*addr+"/", "application/json", bytes.NewReader(payload))
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			<-ch
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d reports in %s (%.2f reports/s)\n", *n, dur, float64(*n)/dur.Seconds())
}
