package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("audits/1/report.json"))
	assert.Equal(t, "text/markdown", contentType("audits/1/report.md"))
	assert.Equal(t, "text/plain", contentType("raw"))
}
