package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine"
	"golang.org/x/sync/errgroup"
)

const manifestName = "manifest.json"

// ObjectStore is the subset of the S3 client that the exporter uses.
type ObjectStore interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
	GetObject(
		ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.GetObjectOutput, error)
	HeadBucket(
		ctx context.Context, params *s3.HeadBucketInput,
		optFns ...func(*s3.Options),
	) (*s3.HeadBucketOutput, error)
}

var _ ObjectStore = &s3.Client{}

type Options struct {
	Logger *slog.Logger
	Client ObjectStore
	Bucket string
	// Prefix is prepended to all object keys.
	Prefix string
	Engine *versioning.Engine
	// Concurrency is the number of concurrent uploads, defaults to 4.
	Concurrency       int
	MetricsRegisterer prometheus.Registerer
	// Clock is used to timestamp manifests, defaults to time.Now.
	Clock func() time.Time
}

// Exporter writes the history of records to an object store, one object
// per version and a manifest that is written last.
type Exporter struct {
	logger      *slog.Logger
	client      ObjectStore
	bucket      string
	prefix      string
	engine      *versioning.Engine
	concurrency int
	now         func() time.Time

	objects *prometheus.CounterVec
}

func NewExporter(opts Options) (*Exporter, error) {
	if opts.Client == nil {
		return nil, errors.New("missing object store client")
	}

	if opts.Bucket == "" {
		return nil, errors.New("missing bucket name")
	}

	if opts.Engine == nil {
		return nil, errors.New("missing versioning engine")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = prometheus.DefaultRegisterer
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	x := Exporter{
		logger:      opts.Logger,
		client:      opts.Client,
		bucket:      opts.Bucket,
		prefix:      opts.Prefix,
		engine:      opts.Engine,
		concurrency: opts.Concurrency,
		now:         opts.Clock,
	}

	prom := elephantine.NewMetricsHelper(opts.MetricsRegisterer)

	prom.CounterVec(&x.objects, prometheus.CounterOpts{
		Name: "versionlog_export_objects_total",
		Help: "Number of objects written by history exports.",
	}, []string{"table", "status"})

	if err := prom.Err(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &x, nil
}

type Manifest struct {
	Table    string              `json:"table"`
	Archive  string              `json:"archive"`
	Identity versioning.Identity `json:"identity"`
	Exported time.Time           `json:"exported"`
	Versions []ManifestVersion   `json:"versions"`
}

type ManifestVersion struct {
	Version int64  `json:"version"`
	LogID   int64  `json:"log_id"`
	Deleted bool   `json:"deleted"`
	Key     string `json:"key"`
	// Checksum is the base64 encoded SHA256 checksum of the object.
	Checksum string `json:"checksum"`
}

// ExportHistory exports all versions of a record. The manifest is only
// written if all versions were exported successfully.
func (x *Exporter) ExportHistory(
	ctx context.Context, da versioning.DataAccess, cfg versioning.Config,
	ident versioning.Identity,
) (Manifest, error) {
	entries, err := x.engine.History(ctx, da, cfg, ident)
	if err != nil {
		return Manifest{}, fmt.Errorf("read history: %w", err)
	}

	if len(entries) == 0 {
		return Manifest{}, versioning.Errorf(versioning.ErrCodeNotFound,
			"no versions of the record have been logged")
	}

	prefix := x.ObjectPrefix(cfg, ident)

	manifest := Manifest{
		Table:    cfg.Live().Name,
		Archive:  cfg.Archive().Name,
		Identity: entries[0].Identity,
		Exported: x.now(),
		Versions: make([]ManifestVersion, len(entries)),
	}

	grp, gCtx := errgroup.WithContext(ctx)

	grp.SetLimit(x.concurrency)

	for i := range entries {
		entry := entries[i]

		grp.Go(func() error {
			key := prefix + fmt.Sprintf("v%010d.json", entry.Version)

			checksum, err := x.putJSON(gCtx, cfg, key, entry)
			if err != nil {
				return fmt.Errorf("export version %d: %w",
					entry.Version, err)
			}

			manifest.Versions[i] = ManifestVersion{
				Version:  entry.Version,
				LogID:    entry.LogID,
				Deleted:  entry.Deleted,
				Key:      key,
				Checksum: checksum,
			}

			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		return Manifest{}, err //nolint:wrapcheck
	}

	manifestKey := x.ManifestKey(cfg, ident)

	_, err = x.putJSON(ctx, cfg, manifestKey, manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}

	x.logger.InfoContext(ctx, "exported record history",
		internal.LogKeyTable, cfg.Live().Name,
		internal.LogKeyBucket, x.bucket,
		internal.LogKeyObjectKey, manifestKey,
		internal.LogKeyCount, len(entries))

	return manifest, nil
}

func (x *Exporter) putJSON(
	ctx context.Context, cfg versioning.Config, key string, v any,
) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	_, err = x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(x.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(data),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(checksum),
		ContentType:       aws.String("application/json"),
		ContentLength:     aws.Int64(int64(len(data))),
	})
	if err != nil {
		x.objects.WithLabelValues(cfg.Live().Name, "error").Inc()

		return "", fmt.Errorf("put S3 object: %w", err)
	}

	x.objects.WithLabelValues(cfg.Live().Name, "ok").Inc()

	return checksum, nil
}

// ReadManifest reads the manifest of the last export of a record.
func (x *Exporter) ReadManifest(
	ctx context.Context, cfg versioning.Config, ident versioning.Identity,
) (Manifest, error) {
	key := x.ManifestKey(cfg, ident)

	res, err := x.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})

	var ae smithy.APIError

	switch {
	case errors.As(err, &ae) && ae.ErrorCode() == "NoSuchKey":
		return Manifest{}, versioning.Errorf(versioning.ErrCodeNotFound,
			"the record has not been exported")
	case err != nil:
		return Manifest{}, fmt.Errorf("get manifest: %w", err)
	}

	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest

	err = json.Unmarshal(data, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return m, nil
}

// CheckBucket verifies that the export bucket exists and is accessible.
func (x *Exporter) CheckBucket(ctx context.Context) error {
	_, err := x.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(x.bucket),
	})

	var ae smithy.APIError

	switch {
	case errors.As(err, &ae) &&
		(ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket"):
		return fmt.Errorf("the bucket %q doesn't exist", x.bucket)
	case err != nil:
		return fmt.Errorf("check bucket %q: %w", x.bucket, err)
	}

	return nil
}

// ObjectPrefix returns the key prefix that the history of a record is
// exported under. Identity values are path escaped.
func (x *Exporter) ObjectPrefix(
	cfg versioning.Config, ident versioning.Identity,
) string {
	var b strings.Builder

	b.WriteString(x.prefix)
	b.WriteString(cfg.Archive().Name)

	for _, name := range cfg.Identity() {
		b.WriteString("/")
		b.WriteString(url.PathEscape(name))
		b.WriteString("=")
		b.WriteString(url.PathEscape(fmt.Sprint(ident[name])))
	}

	b.WriteString("/")

	return b.String()
}

// ManifestKey returns the object key of the export manifest of a record.
func (x *Exporter) ManifestKey(
	cfg versioning.Config, ident versioning.Identity,
) string {
	return x.ObjectPrefix(cfg, ident) + manifestName
}
