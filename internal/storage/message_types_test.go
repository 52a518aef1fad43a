package storage

import (
	"testing"
	"time"

	"resume-pipeline-go/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCaseMessageValidate(t *testing.T) {
	msg := &ProcessCaseMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        "0190a3f0-1111-7aaa-bbbb-cccccccccccc",
		EnqueuedAt:    time.Now(),
	}
	require.NoError(t, msg.Validate())

	msg.CaseID = "not-a-uuid"
	assert.Error(t, msg.Validate(), "非UUID的caseId应被拒绝")

	msg.CaseID = "0190a3f0-1111-7aaa-bbbb-cccccccccccc"
	msg.SchemaVersion = 99
	assert.Error(t, msg.Validate(), "未知消息版本应被拒绝")
}

func TestGenerateArtifactMessageValidate(t *testing.T) {
	msg := &GenerateArtifactMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        "0190a3f0-1111-7aaa-bbbb-cccccccccccc",
		ArtifactType:  string(constants.ArtifactResumePDF),
	}
	require.NoError(t, msg.Validate())

	msg.ArtifactType = "resume_xls"
	assert.Error(t, msg.Validate(), "未知产物类型应被拒绝")
}

func TestMarshalUnmarshalTask(t *testing.T) {
	src := &ExtractDocumentMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        "0190a3f0-1111-7aaa-bbbb-cccccccccccc",
		DocumentID:    "0190a3f0-2222-7aaa-bbbb-cccccccccccc",
		EnqueuedAt:    time.Now().UTC(),
	}
	data, err := MarshalTask(src)
	require.NoError(t, err)

	var dst ExtractDocumentMessage
	require.NoError(t, UnmarshalTask(data, &dst))
	assert.Equal(t, src.CaseID, dst.CaseID)
	assert.Equal(t, src.DocumentID, dst.DocumentID)

	// 消费端收到畸形载荷时必须报错
	assert.Error(t, UnmarshalTask([]byte(`{"schemaVersion":1,"caseId":"bad"}`), &ExtractDocumentMessage{}))
	assert.Error(t, UnmarshalTask([]byte(`not json`), &ExtractDocumentMessage{}))
}
