package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryCacheKeysAndDefaults(t *testing.T) {
	c := NewHistoryCache(nil, 0, -1)

	assert.Equal(t, 60*time.Second, c.historyTTL)
	assert.Equal(t, 5*time.Second, c.dirtyMarkerTTL)
	assert.Equal(t, "localrag:history:abc", c.historyKey("abc"))
	assert.Equal(t, "localrag:history:dirty:abc", c.dirtyKey("abc"))
}
