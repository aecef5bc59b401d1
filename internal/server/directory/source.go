// Package directory enumerates this server's own users from the backend that
// provisions them. The result feeds the hash directory rebuild and the
// outbound federation push.
package directory

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/config"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

const (
	SourceNone = ""
	SourceSQL  = "sql"
	SourceS3   = "s3"
)

// Source returns every identifier known to the directory backend.
type Source interface {
	Records(ctx context.Context) ([]models.DirectoryRecord, error)
}

// NewSource builds the source named in cfg. It returns nil, nil when no
// source is configured.
func NewSource(ctx context.Context, cfg config.DirectoryConfig, db dbx.DBTX) (Source, error) {
	switch cfg.Source {
	case SourceNone:
		return nil, nil
	case SourceSQL:
		return NewSQLSource(db, cfg.SQLQuery), nil
	case SourceS3:
		return NewS3Source(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown directory source %q", cfg.Source)
	}
}
