package handler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"resume-pipeline-go/internal/constants"
)

func TestValidateUploadFiles(t *testing.T) {
	tests := []struct {
		name    string
		files   []UploadFileRequest
		wantErr bool
	}{
		{
			name: "合法的混合类型",
			files: []UploadFileRequest{
				{FileName: "简历.pdf", SizeBytes: 1024},
				{FileName: "证书.DOCX", SizeBytes: 2048},
				{FileName: "scan.jpeg", SizeBytes: 4096},
			},
		},
		{name: "空列表", files: nil, wantErr: true},
		{
			name:    "可执行文件",
			files:   []UploadFileRequest{{FileName: "resume.exe", SizeBytes: 10}},
			wantErr: true,
		},
		{
			name:    "无扩展名",
			files:   []UploadFileRequest{{FileName: "resume", SizeBytes: 10}},
			wantErr: true,
		},
		{
			name:    "超过大小上限",
			files:   []UploadFileRequest{{FileName: "big.pdf", SizeBytes: constants.MaxUploadSizeBytes + 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUploadFiles(tt.files)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUploadFilesTooMany(t *testing.T) {
	var files []UploadFileRequest
	for i := 0; i <= constants.MaxUploadFiles; i++ {
		files = append(files, UploadFileRequest{FileName: fmt.Sprintf("doc-%d.pdf", i), SizeBytes: 100})
	}
	assert.ErrorIs(t, validateUploadFiles(files), ErrValidation)
}

func TestEmailPattern(t *testing.T) {
	assert.True(t, emailPattern.MatchString("zhangwei@example.com"))
	assert.True(t, emailPattern.MatchString("zhang.wei+jobs@mail.example.cn"))
	assert.False(t, emailPattern.MatchString("zhangwei"))
	assert.False(t, emailPattern.MatchString("zhangwei@"))
	assert.False(t, emailPattern.MatchString("zhang wei@example.com"))
}
