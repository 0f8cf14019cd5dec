package redis

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock is already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Lock is a single-instance SET NX lock. Only the holder of the token can
// release it.
type Lock struct {
	adapter RedisAdapter
	key     string
	token   string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func Acquire(adapter RedisAdapter, key string, ttl time.Duration) (*Lock, error) {
	l := &Lock{adapter: adapter, key: key, token: uuid.NewString()}
	ok, err := adapter.SetNX(key, []byte(l.token), ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	return l, nil
}

func (l *Lock) Key() string {
	return l.key
}

// Release deletes the key if it still carries this lock's token.
func (l *Lock) Release() error {
	res, err := l.adapter.Eval(unlockScript, []string{l.key}, l.token)
	if err != nil {
		return err
	}
	if n, _ := res.(int64); n == 0 {
		return fmt.Errorf("lock %s expired or taken over", l.key)
	}
	return nil
}
