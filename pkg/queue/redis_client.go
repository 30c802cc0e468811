package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-sobel/pkg/common"
)

const (
	workersGroup    = "workers"
	assemblersGroup = "assemblers"
	infoTTL         = 24 * time.Hour
)

// RedisClient moves tile jobs and results through Redis Streams and keeps
// per-image bookkeeping in plain keys.
type RedisClient struct {
	client    *redis.Client
	namespace string
}

// NewRedisClient connects to addr and verifies the connection. Keys are
// prefixed with namespace, "sobel" when empty.
func NewRedisClient(ctx context.Context, addr, namespace string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if namespace == "" {
		namespace = "sobel"
	}
	return &RedisClient{client: client, namespace: namespace}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) jobsStream() string {
	return r.namespace + ":jobs"
}

func (r *RedisClient) resultsStream() string {
	return r.namespace + ":results"
}

func (r *RedisClient) imageInfoKey(imageID int) string {
	return fmt.Sprintf("%s:image:%d:info", r.namespace, imageID)
}

func (r *RedisClient) imageStatusKey(imageID int) string {
	return fmt.Sprintf("%s:image:%d:status", r.namespace, imageID)
}

func (r *RedisClient) verdictKey(imageID int) string {
	return fmt.Sprintf("%s:image:%d:verdict", r.namespace, imageID)
}

// EnsureGroups creates the consumer groups and their streams. Existing groups
// are left alone.
func (r *RedisClient) EnsureGroups(ctx context.Context) error {
	for stream, group := range map[string]string{
		r.jobsStream():    workersGroup,
		r.resultsStream(): assemblersGroup,
	} {
		err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (r *RedisClient) AddJob(ctx context.Context, job *common.JobMessage) (string, error) {
	return r.add(ctx, r.jobsStream(), job)
}

func (r *RedisClient) AddResult(ctx context.Context, res *common.ResultMessage) (string, error) {
	return r.add(ctx, r.resultsStream(), res)
}

func (r *RedisClient) add(ctx context.Context, stream string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": b},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadJob blocks up to block for the next job. A nil job with a nil error
// means the wait timed out.
func (r *RedisClient) ReadJob(ctx context.Context, consumer string, block time.Duration) (string, *common.JobMessage, error) {
	var job common.JobMessage
	id, ok, err := r.read(ctx, r.jobsStream(), workersGroup, consumer, block, &job)
	if !ok {
		return "", nil, err
	}
	return id, &job, err
}

func (r *RedisClient) AckJob(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.jobsStream(), workersGroup, id).Err()
}

// ReadResult blocks up to block for the next processed tile.
func (r *RedisClient) ReadResult(ctx context.Context, consumer string, block time.Duration) (string, *common.ResultMessage, error) {
	var res common.ResultMessage
	id, ok, err := r.read(ctx, r.resultsStream(), assemblersGroup, consumer, block, &res)
	if !ok {
		return "", nil, err
	}
	return id, &res, err
}

func (r *RedisClient) AckResult(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.resultsStream(), assemblersGroup, id).Err()
}

func (r *RedisClient) read(ctx context.Context, stream, group, consumer string, block time.Duration, v any) (string, bool, error) {
	result, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return "", false, nil
	}

	msg := result[0].Messages[0]
	if err := json.Unmarshal(bytesFromInterface(msg.Values["data"]), v); err != nil {
		// Undecodable entries would otherwise sit in the pending list forever.
		_ = r.client.XAck(ctx, stream, group, msg.ID).Err()
		return msg.ID, false, fmt.Errorf("decode %s entry %s: %w", stream, msg.ID, err)
	}
	return msg.ID, true, nil
}

func (r *RedisClient) StoreImageInfo(ctx context.Context, info *common.ImageInfo) error {
	return r.setJSON(ctx, r.imageInfoKey(info.ID), info, infoTTL)
}

func (r *RedisClient) GetImageInfo(ctx context.Context, imageID int) (*common.ImageInfo, error) {
	var info common.ImageInfo
	if err := r.getJSON(ctx, r.imageInfoKey(imageID), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *RedisClient) MarkImageCompleted(ctx context.Context, imageID int) error {
	return r.client.Set(ctx, r.imageStatusKey(imageID), "completed", infoTTL).Err()
}

func (r *RedisClient) IsImageCompleted(ctx context.Context, imageID int) (bool, error) {
	result, err := r.client.Get(ctx, r.imageStatusKey(imageID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result == "completed", nil
}

func (r *RedisClient) StoreVerdict(ctx context.Context, v *common.Verdict) error {
	return r.setJSON(ctx, r.verdictKey(v.ImageID), v, infoTTL)
}

// GetVerdict returns the stored verdict, or nil if none has been recorded.
func (r *RedisClient) GetVerdict(ctx context.Context, imageID int) (*common.Verdict, error) {
	var v common.Verdict
	err := r.getJSON(ctx, r.verdictKey(imageID), &v)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *RedisClient) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, b, ttl).Err()
}

func (r *RedisClient) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ResetImage drops the completion status and verdict left by an earlier run
// that used the same image id.
func (r *RedisClient) ResetImage(ctx context.Context, imageID int) error {
	return r.client.Del(ctx, r.imageStatusKey(imageID), r.verdictKey(imageID)).Err()
}

// ClaimStaleJobs moves jobs pending longer than minIdle to consumer so they
// are delivered again, and returns their ids.
func (r *RedisClient) ClaimStaleJobs(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]string, error) {
	return r.claimStale(ctx, r.jobsStream(), workersGroup, consumer, minIdle, count)
}

// ClaimStaleResults does the same for processed tiles an assembler read but
// never acknowledged.
func (r *RedisClient) ClaimStaleResults(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]string, error) {
	return r.claimStale(ctx, r.resultsStream(), assemblersGroup, consumer, minIdle, count)
}

func (r *RedisClient) claimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]string, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Count:  int64(count),
		Start:  "-",
		End:    "+",
	}).Result()

	if err != nil || len(pending) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := r.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReadClaimedJobs returns jobs already delivered to consumer but not yet
// acknowledged, such as those moved there by ClaimStaleJobs.
func (r *RedisClient) ReadClaimedJobs(ctx context.Context, consumer string, count int) ([]string, []*common.JobMessage, error) {
	var jobs []*common.JobMessage
	ids, err := r.readPending(ctx, r.jobsStream(), workersGroup, consumer, count, func(data []byte) error {
		var job common.JobMessage
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		jobs = append(jobs, &job)
		return nil
	})
	return ids, jobs, err
}

// ReadClaimedResults returns results already delivered to consumer but not yet
// acknowledged.
func (r *RedisClient) ReadClaimedResults(ctx context.Context, consumer string, count int) ([]string, []*common.ResultMessage, error) {
	var results []*common.ResultMessage
	ids, err := r.readPending(ctx, r.resultsStream(), assemblersGroup, consumer, count, func(data []byte) error {
		var res common.ResultMessage
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		results = append(results, &res)
		return nil
	})
	return ids, results, err
}

// readPending reads consumer's pending entries and passes each payload to
// decode. Entries decode rejects are acknowledged and left out.
func (r *RedisClient) readPending(ctx context.Context, stream, group, consumer string, count int, decode func([]byte) error) ([]string, error) {
	result, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, "0"},
		Count:    int64(count),
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(result) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, msg := range result[0].Messages {
		if err := decode(bytesFromInterface(msg.Values["data"])); err != nil {
			_ = r.client.XAck(ctx, stream, group, msg.ID).Err()
			continue
		}
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func bytesFromInterface(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
