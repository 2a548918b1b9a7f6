// Command nanoset runs the audio dataset encoding pipeline: every
// configured dataset is streamed through reader and encoder worker pools
// into compressed token shards, then the shards are assembled into one
// dataset and handed to the configured persistence sinks.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"nanoset"
	"nanoset/assemble"
	"nanoset/codec"
	"nanoset/config"
	"nanoset/shard"
	"nanoset/sink"
	"nanoset/source"
)

func main() {
	configPath := flag.String("config", "config.yaml",
		"pipeline configuration file")
	validateOnly := flag.Bool("validate", false,
		"validate the configuration and exit")
	skipAssemble := flag.Bool("skip_assemble", false,
		"process datasets but skip final assembly and persistence")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	setupLogging(*debugFlag)
	log := logrus.StandardLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if *validateOnly {
		log.WithField("datasets", len(cfg.Datasets)).
			Info("configuration is valid")
		return
	}

	devices := codec.Devices()
	if len(devices) == 0 {
		log.Warn("no accelerator devices visible, using one CPU worker")
	} else {
		log.WithField("devices", len(devices)).Info("accelerators found")
	}
	if err = os.MkdirAll(cfg.Base.OutDir, 0755); err != nil {
		log.WithError(err).Fatal("creating output directory")
	}

	begin := time.Now()
	for dsIdx := range cfg.Datasets {
		ds := &cfg.Datasets[dsIdx]
		dsLog := log.WithField("dataset", ds.Name)
		dsLog.WithFields(logrus.Fields{
			"index": dsIdx + 1,
			"total": len(cfg.Datasets),
		}).Info("processing dataset")

		src, srcErr := openSource(ds)
		if srcErr != nil {
			dsLog.WithError(srcErr).Fatal("source unavailable")
		}
		stats := runDataset(cfg, ds, src, devices, dsLog)
		dsLog.WithFields(logrus.Fields{
			"read":    stats.Read,
			"encoded": stats.Encoded,
			"skipped": stats.Skipped(),
			"shards":  stats.Shards,
			"size":    humanize.IBytes(uint64(stats.Bytes)),
		}).Info("dataset complete")
		if stats.ReaderFailures > 0 || stats.WorkerFailures > 0 {
			dsLog.WithFields(logrus.Fields{
				"reader_failures": stats.ReaderFailures,
				"worker_failures": stats.WorkerFailures,
			}).Warn("dataset completed with worker failures")
		}
	}
	log.WithField("elapsed", time.Since(begin).Round(time.Second)).
		Info("all datasets processed")

	if *skipAssemble {
		return
	}
	if err = assembleAndSave(cfg, log); err != nil {
		log.WithError(err).Fatal("assembly failed")
	}
}

func setupLogging(debug bool) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	if env, err := strconv.ParseBool(os.Getenv("NANOSET_DEBUG")); err == nil && env {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func openSource(ds *config.DatasetConfig) (nanoset.Source, error) {
	switch ds.Kind {
	case "wavdir":
		root := ds.Path
		if ds.Split != "" {
			root = root + "/" + ds.Split
		}
		return source.NewWavDir(root, ds.SpeakerFromDir)
	case "manifest":
		return source.NewManifest(ds.Path, source.Columns{
			Text:    ds.TextColumn,
			Audio:   ds.AudioColumn,
			Speaker: ds.SpeakerColumn,
		})
	}
	return nil, fmt.Errorf("unknown source kind %q", ds.Kind)
}

func runDataset(cfg *config.Config, ds *config.DatasetConfig,
	src nanoset.Source, devices []int, log *logrus.Entry) *nanoset.Stats {
	bar := progressbar.NewOptions64(int64(src.Size()),
		progressbar.OptionSetDescription(ds.Prefix()),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionThrottle(500*time.Millisecond))
	pipeline := &nanoset.Pipeline{
		Config: nanoset.PipelineConfig{
			NumReaders:   cfg.Base.NumReaders,
			QueueSize:    cfg.Base.QSize,
			BatchSize:    cfg.Base.BatchSize,
			BatchTimeout: time.Duration(cfg.Base.BatchTimeoutMS) * time.Millisecond,
			Devices:      devices,
			Sanitize:     cfg.Base.SanitizeText,
			Constants:    ds.Constants(),
		},
		NewCodec: func(device int) (nanoset.Codec, error) {
			if cfg.Base.CodecCmd == "" {
				return &codec.Null{}, nil
			}
			return codec.NewExec(cfg.Base.CodecCmd, cfg.Base.AudioCodec,
				device)
		},
		NewWriter: func(worker int) (nanoset.ShardWriter, error) {
			return shard.NewWriter(cfg.Base.OutDir, ds.Prefix(), worker,
				shard.Options{
					GzipLevel:    cfg.Base.GzipLevel,
					BufferSize:   cfg.Base.BufferSize,
					LinesPerFile: cfg.Base.LinesPerFile,
				})
		},
		Progress: func(snap nanoset.Snapshot) {
			bar.Set64(snap.Encoded)
		},
		Log: log,
	}
	stats, err := pipeline.Run(src)
	if err != nil {
		log.WithError(err).Fatal("pipeline failed")
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return stats
}

func assembleAndSave(cfg *config.Config, log *logrus.Logger) error {
	sinks := make([]assemble.Sink, 0, 2)
	if cfg.Save.Local != "" {
		sinks = append(sinks, &sink.Disk{Dir: cfg.Save.Local})
	}
	if cfg.Save.S3Upload != "" {
		bucket, prefix, err := sink.ParseDestination(cfg.Save.S3Upload)
		if err != nil {
			return err
		}
		sess, err := session.NewSession()
		if err != nil {
			return err
		}
		sinks = append(sinks, &sink.S3{
			Client: s3.New(sess),
			Bucket: bucket,
			Prefix: prefix,
		})
	}
	if len(sinks) == 0 {
		log.Info("no persistence sinks configured, skipping assembly")
		return nil
	}
	assembler := &assemble.Assembler{
		OutDir:    cfg.Base.OutDir,
		Constants: cfg.ConstantKeys(),
		Log:       logrus.NewEntry(log),
	}
	summary, err := assembler.Assemble(sinks...)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"shards":  summary.Shards,
		"records": summary.Records,
	}).Info("assembled dataset persisted")
	return nil
}
