package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RunStatus is the last evaluation run recorded for a week.
type RunStatus struct {
	Trigger   string     `json:"trigger"`
	State     string     `json:"state"`
	Scored    int        `json:"scored"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	Completed bool       `json:"week_completed"`
	Message   string     `json:"message,omitempty"`
	Start     *time.Time `json:"start_time,omitempty"`
	End       *time.Time `json:"end_time,omitempty"`
}

const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

type RedisRunStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// NewRedisRunStatus keeps entries for ttl after the last write; zero keeps them forever.
func NewRedisRunStatus(client *redis.Client, ttl time.Duration) *RedisRunStatus {
	return &RedisRunStatus{client: client, keyNS: "eval", ttl: ttl}
}

func (s *RedisRunStatus) key(courseID string, week int) string {
	return fmt.Sprintf("%s:%s:%d:status", s.keyNS, courseID, week)
}

func (s *RedisRunStatus) Set(ctx context.Context, courseID string, week int, st RunStatus) error {
	m := map[string]interface{}{
		"trigger":   st.Trigger,
		"state":     st.State,
		"scored":    st.Scored,
		"failed":    st.Failed,
		"skipped":   st.Skipped,
		"completed": strconv.FormatBool(st.Completed),
		"message":   st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	key := s.key(courseID, week)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, m)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRunStatus) Get(ctx context.Context, courseID string, week int) (RunStatus, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(courseID, week)).Result()
	if err != nil {
		return RunStatus{}, false, err
	}
	if len(res) == 0 {
		return RunStatus{}, false, nil
	}
	st := RunStatus{
		Trigger: res["trigger"],
		State:   res["state"],
		Message: res["message"],
	}
	st.Scored, _ = strconv.Atoi(res["scored"])
	st.Failed, _ = strconv.Atoi(res["failed"])
	st.Skipped, _ = strconv.Atoi(res["skipped"])
	st.Completed, _ = strconv.ParseBool(res["completed"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	return st, true, nil
}
