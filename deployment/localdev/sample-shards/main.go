package main

import (
	"compress/gzip"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var header = []string{"timestamp", "src_address", "dst_address", "protocol", "size_bytes", "inter_arrival_seconds", "label"}

func main() {
	outDir := flag.String("out-dir", "data/shards", "Directory for generated shards")
	shards := flag.Int("shards", 2, "Number of shards")
	rows := flag.Int("rows", 5000, "Rows per shard")
	botShare := flag.Float64("bot-share", 0.1, "Fraction of rows sent by infected hosts")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	start := time.Date(2011, 8, 10, 9, 46, 0, 0, time.UTC)
	for i := 0; i < *shards; i++ {
		day := start.AddDate(0, 0, i)
		path := filepath.Join(*outDir, fmt.Sprintf("capture%s.csv.gz", day.Format("20060102")))
		if err := writeShard(path, generate(rng, day, *rows, *botShare)); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		log.Printf("wrote %d rows to %s", *rows, path)
	}
}

// generate mixes background traffic with infected hosts beaconing large UDP
// packets to a single C2 endpoint at a tight cadence.
func generate(rng *rand.Rand, start time.Time, rows int, botShare float64) [][]string {
	bots := []string{"147.32.84.165", "147.32.84.191", "147.32.84.192"}
	const c2 = "147.32.96.69"

	records := make([][]string, 0, rows+1)
	records = append(records, header)
	ts := float64(start.Unix())
	for i := 0; i < rows; i++ {
		var src, dst, proto, label string
		var size, interval float64
		if rng.Float64() < botShare {
			src, dst, proto, label = bots[rng.Intn(len(bots))], c2, "UDP", "botnet"
			size = 1100 + float64(rng.Intn(400))
			interval = 0.01 + rng.Float64()*0.03
		} else {
			src = fmt.Sprintf("147.32.%d.%d", 80+rng.Intn(8), 1+rng.Intn(254))
			dst = fmt.Sprintf("%d.%d.%d.%d", 1+rng.Intn(223), rng.Intn(256), rng.Intn(256), 1+rng.Intn(254))
			proto, label = "TCP", "normal"
			if rng.Intn(4) == 0 {
				proto = "UDP"
			}
			size = 60 + float64(rng.Intn(900))
			interval = rng.ExpFloat64() * 0.5
		}
		ts += interval
		records = append(records, []string{
			strconv.FormatFloat(ts, 'f', 6, 64),
			src, dst, proto,
			strconv.FormatFloat(size, 'f', 0, 64),
			strconv.FormatFloat(interval, 'f', 6, 64),
			label,
		})
	}
	return records
}

func writeShard(path string, records [][]string) error {
	df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	if df.Err != nil {
		return df.Err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if err := df.WriteCSV(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}
