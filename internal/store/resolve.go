package store

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options names every configurable backend. At most one is used; see
// Resolve for the precedence.
type Options struct {
	SQLiteFile         string
	FileDir            string
	S3Bucket           string
	S3Prefix           string
	DynamoDBTable      string
	ElasticsearchIndex string
	ElasticsearchHosts []string
}

// Resolve picks the persistence backend from the options, first match
// wins: embedded SQL file, filesystem directory, object store,
// key-value table, search index. With nothing configured jobs live in
// memory only.
func Resolve(ctx context.Context, opts Options, awsCfg aws.Config) (Store, error) {
	switch {
	case opts.SQLiteFile != "":
		slog.Info("using sqlite job store", "path", opts.SQLiteFile)
		return NewSQLite(opts.SQLiteFile)
	case opts.FileDir != "":
		slog.Info("using file job store", "dir", opts.FileDir)
		return NewFile(opts.FileDir)
	case opts.S3Bucket != "":
		slog.Info("using s3 job store", "bucket", opts.S3Bucket, "prefix", opts.S3Prefix)
		return NewS3(s3.NewFromConfig(awsCfg), opts.S3Bucket, opts.S3Prefix), nil
	case opts.DynamoDBTable != "":
		slog.Info("using dynamodb job store", "table", opts.DynamoDBTable)
		return NewDynamoDB(dynamodb.NewFromConfig(awsCfg), opts.DynamoDBTable), nil
	case opts.ElasticsearchIndex != "" && len(opts.ElasticsearchHosts) > 0:
		slog.Info("using elasticsearch job store",
			"index", opts.ElasticsearchIndex, "hosts", opts.ElasticsearchHosts)
		return NewElasticsearch(opts.ElasticsearchHosts, opts.ElasticsearchIndex)
	}
	return NewNull(), nil
}
