package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCannedResponseBuckets(t *testing.T) {
	t.Parallel()

	assert.Equal(t, cannedAbout, CannedResponse("Tell me about this site"))
	assert.Equal(t, cannedAbout, CannedResponse("who are you?"))
	assert.Equal(t, cannedContact, CannedResponse("How do I contact support?"))
	assert.Equal(t, cannedDefault, CannedResponse("find me a cheap laptop"))
	assert.NotEmpty(t, CannedResponse(""))
}
