package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturnTypeFromTypeRef(t *testing.T) {
	assert.Equal(t, "double", ReturnTypeFromTypeRef("typename:double"))
	assert.Equal(t, "struct:point", ReturnTypeFromTypeRef("struct:point"))
	assert.Equal(t, "", ReturnTypeFromTypeRef(""))
}

func TestPage_HasMore(t *testing.T) {
	p := Page[string]{Items: []string{"a", "b"}, TotalCount: 5, Offset: 0, Limit: 2}
	assert.True(t, p.HasMore())

	p = Page[string]{Items: []string{"e"}, TotalCount: 5, Offset: 4, Limit: 2}
	assert.False(t, p.HasMore())

	p = Page[string]{Items: nil, TotalCount: 0, Offset: 0, Limit: 10}
	assert.False(t, p.HasMore())
}
