package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/panosync/internal/cloud"
)

// CreatedAtLayout is the timestamp format of a panorama's created_at field.
const CreatedAtLayout = "2006-01-02T15:04:05.000000Z"

// ErrParse is returned when a catalog item carries a created_at value that
// does not match CreatedAtLayout. It aborts the catalog walk.
var ErrParse = errors.New("pipeline: unparseable created_at")

const (
	panoramaType    = "panorama"
	jpegExt         = ".jpg"
	partialSuffix   = ".partial"
	downloadDirPerm = 0o755
	downloadPerm    = 0o644
)

// Downloader fetches processed panoramas that are not yet stored locally.
type Downloader struct {
	// PageSize is the catalog page size. Zero uses cloud.DefaultPageSize.
	PageSize int

	client  *cloud.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewDownloader returns a Downloader. A nil logger uses slog.Default().
func NewDownloader(client *cloud.Client, logger *slog.Logger, metrics *Metrics) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{client: client, logger: logger, metrics: metrics}
}

// DownloadNew logs in, walks the whole catalog and stores the largest
// equirectangular variant of every panorama missing under localRoot as
// <localRoot>/<YYYY-MM-DD>/<id>.jpg. Items that cannot be downloaded (no id,
// no self link, no variants) are skipped. A malformed created_at, a catalog
// error or a failed download ends the walk with an error; the count of
// panoramas downloaded before that point is still returned.
func (d *Downloader) DownloadNew(ctx context.Context, localRoot string, creds cloud.Credentials) (int, error) {
	session, err := d.client.Login(ctx, creds)
	if err != nil {
		return 0, fmt.Errorf("pipeline: download login: %w", err)
	}

	username := session.Username()
	if username == "" {
		return 0, fmt.Errorf("pipeline: login response carried no username")
	}

	d.logger.Info("checking catalog for new panoramas",
		slog.String("username", username),
		slog.String("destination", localRoot),
	)

	downloaded := 0

	for item, err := range session.AllPanoramas(ctx, username, d.PageSize) {
		if err != nil {
			return downloaded, fmt.Errorf("pipeline: listing catalog: %w", err)
		}

		ok, err := d.downloadItem(ctx, session, localRoot, item)
		if err != nil {
			return downloaded, err
		}

		if ok {
			downloaded++
			d.metrics.incDownloaded()
		}
	}

	d.logger.Info("catalog walk complete", slog.Int("downloaded", downloaded))

	return downloaded, nil
}

// downloadItem handles one catalog entry. ok reports whether a file was
// written; every skip returns (false, nil).
func (d *Downloader) downloadItem(
	ctx context.Context, session *cloud.Session, root string, item cloud.Panorama,
) (bool, error) {
	if item.Type != panoramaType {
		return false, nil
	}

	if item.ID == "" {
		d.logger.Warn("catalog item has no id, skipping")
		return false, nil
	}

	if strings.ContainsAny(item.ID, `/\`) || item.ID == "." || item.ID == ".." {
		d.logger.Warn("catalog item id is not a valid file name, skipping", slog.String("id", item.ID))
		return false, nil
	}

	// Items without a data block carry no timestamp at all. A data block
	// with no created_at falls through to the parse error below.
	if item.CreatedAt == "" && !item.HasData {
		d.logger.Debug("catalog item has no data block, skipping", slog.String("id", item.ID))
		return false, nil
	}

	created, err := time.Parse(CreatedAtLayout, item.CreatedAt)
	if err != nil {
		d.logger.Error("cannot parse created_at",
			slog.String("id", item.ID),
			slog.String("created_at", item.CreatedAt),
		)

		return false, fmt.Errorf("%w: panorama %s: %q: %w", ErrParse, item.ID, item.CreatedAt, err)
	}

	dest := ProcessedPath(root, item.ID, created)

	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("pipeline: stat %s: %w", dest, err)
	}

	detail, err := session.FetchBySelfLink(ctx, item.Self)
	if err != nil {
		return false, fmt.Errorf("pipeline: fetching panorama %s: %w", item.ID, err)
	}

	if detail == nil {
		d.logger.Debug("panorama has no detail link, skipping", slog.String("id", item.ID))
		return false, nil
	}

	variant, found := SelectLargest(detail.Equirectangulars)
	if !found {
		d.logger.Debug("panorama has no processed variants yet, skipping", slog.String("id", item.ID))
		return false, nil
	}

	if err := d.fetchTo(ctx, session, variant, dest); err != nil {
		return false, fmt.Errorf("pipeline: downloading panorama %s: %w", item.ID, err)
	}

	d.logger.Info("downloaded panorama",
		slog.String("id", item.ID),
		slog.String("path", dest),
		slog.Int("width", variant.Width),
		slog.Int("height", variant.Height),
	)

	return true, nil
}

// fetchTo streams variant into dest through a .partial file that is renamed
// into place on success and removed on any failure, so dest never holds a
// truncated image.
func (d *Downloader) fetchTo(ctx context.Context, session *cloud.Session, variant cloud.ImageVariant, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), downloadDirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}

	partial := dest + partialSuffix

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, downloadPerm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", partial, err)
	}

	_, err = session.Download(ctx, variant.URL, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", partial, closeErr)
	}

	if err == nil {
		err = os.Rename(partial, dest)
	}

	if err != nil {
		d.logger.Info("removing unfinished download", slog.String("path", partial))

		if rmErr := os.Remove(partial); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			d.logger.Warn("failed to remove unfinished download",
				slog.String("path", partial), slog.String("error", rmErr.Error()))
		}

		return err
	}

	return nil
}

// ProcessedPath returns where the processed panorama id created at created
// is stored under root.
func ProcessedPath(root, id string, created time.Time) string {
	return filepath.Join(root, created.UTC().Format(time.DateOnly), id+jpegExt)
}

// SelectLargest returns the variant with the largest pixel area. Ties keep
// the first. Variants with a zero area never win, so found is false when the
// list is empty or every variant lacks dimensions or a URL.
func SelectLargest(variants []cloud.ImageVariant) (cloud.ImageVariant, bool) {
	var (
		best    cloud.ImageVariant
		maxArea int64
		found   bool
	)

	for _, v := range variants {
		if area := v.Pixels(); area > maxArea {
			best, maxArea, found = v, area, true
		}
	}

	if !found || best.URL == "" {
		return cloud.ImageVariant{}, false
	}

	return best, true
}
