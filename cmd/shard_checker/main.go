// Command shard_checker validates shard files after a run: each file must
// decompress cleanly to the end, and every record must carry four token
// layers whose lengths equal its declared encoded_len. A shard left
// truncated by a crashed run fails here.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"nanoset/shard"
)

func main() {
	dir := flag.String("dir", "",
		"directory containing .jsonl.gz shard files")
	flag.Parse()
	if *dir == "" {
		flag.Usage()
		log.Fatal("Must provide -dir containing shard files")
	}

	shards, err := shard.Discover(*dir)
	if err != nil {
		log.Fatal(err)
	}
	if len(shards) == 0 {
		log.Fatalf("%s contains no shard files", *dir)
	}

	totalRecords := 0
	var totalBytes int64
	bad := 0
	for _, path := range shards {
		records, validateErr := shard.Validate(path)
		if validateErr != nil {
			bad++
			log.Printf("BAD  %s: %v", path, validateErr)
			continue
		}
		if stat, statErr := os.Stat(path); statErr == nil {
			totalBytes += stat.Size()
		}
		totalRecords += records
		log.Printf("OK   %s: %d records", path, records)
	}
	log.Printf("%d shards, %d records, %s", len(shards), totalRecords,
		humanize.IBytes(uint64(totalBytes)))
	if bad > 0 {
		log.Fatalf("%d shard(s) failed validation", bad)
	}
}
