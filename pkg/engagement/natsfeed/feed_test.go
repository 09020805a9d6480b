package natsfeed

import (
	"testing"

	"engagement-chat-sdk/pkg/engagement"

	"github.com/stretchr/testify/assert"
)

func TestSubjectSuffix(t *testing.T) {
	assert.Equal(t, "message", subjectSuffix("engagement.message"))
	assert.Equal(t, "typing", subjectSuffix("engagement.session.typing"))
	assert.Equal(t, "bare", subjectSuffix("bare"))
}

func TestSubjectRouting(t *testing.T) {
	topic, ok := topicBySuffix["message"]
	assert.True(t, ok)
	assert.Equal(t, engagement.TopicMessage, topic)

	_, ok = topicBySuffix["unknown"]
	assert.False(t, ok)
}
