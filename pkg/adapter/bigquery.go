package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQuery runs read-only analytical queries against public genomics
// datasets. The expression statistics tool is its only consumer.
type BigQuery interface {
	// Query executes a query and returns all result rows
	Query(ctx context.Context, query string, params []bigquery.QueryParameter) ([]map[string]any, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) Query(ctx context.Context, query string, params []bigquery.QueryParameter) ([]map[string]any, error) {
	q := bq.client.Query(query)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed")
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}

	var results []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result")
		}

		rowMap := make(map[string]any, len(row))
		for k, v := range row {
			rowMap[k] = v
		}
		results = append(results, rowMap)
	}

	return results, nil
}
