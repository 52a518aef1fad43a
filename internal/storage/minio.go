package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// PresignedUpload 一次直传上传所需的全部信息
type PresignedUpload struct {
	URL      string            `json:"url"`
	FormData map[string]string `json:"formData"`
	// ObjectKey 上传完成后对象在原始桶中的路径
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadArtifact 上传产物字节，返回对象路径
	UploadArtifact(ctx context.Context, caseID, artifactID, fileName string, data []byte, contentType string) (string, error)

	// DownloadRawDocument 下载原始文档字节
	DownloadRawDocument(ctx context.Context, objectKey string) ([]byte, error)

	// DownloadArtifact 下载产物字节
	DownloadArtifact(ctx context.Context, objectKey string) ([]byte, error)

	// PresignedUploadURL 为原始文档签发限时直传凭证
	PresignedUploadURL(ctx context.Context, caseID, documentID, fileName string) (*PresignedUpload, error)

	// PresignedDownloadURL 为产物签发限时下载URL
	PresignedDownloadURL(ctx context.Context, objectKey, fileName string) (string, error)

	// RawObjectExists 判断原始对象是否已上传
	RawObjectExists(ctx context.Context, objectKey string) (bool, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 产物与原始文档的对象存储。双桶：原始文档桶 + 产物桶。
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	rawBucket       string
	artifactsBucket string
	logger          *log.Logger
}

// RawObjectKey 原始文档的内容寻址路径
func RawObjectKey(caseID, documentID, fileName string) string {
	return fmt.Sprintf("cases/%s/raw/%s/%s", caseID, documentID, fileName)
}

// ArtifactObjectKey 产物的内容寻址路径
func ArtifactObjectKey(caseID, artifactID, fileName string) string {
	return fmt.Sprintf("cases/%s/artifacts/%s/%s", caseID, artifactID, fileName)
}

// NewMinIO 创建MinIO客户端并初始化存储桶
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		rawBucket:       cfg.RawBucket,
		artifactsBucket: cfg.ArtifactsBucket,
		logger:          logger,
	}

	for _, bucket := range []string{m.rawBucket, m.artifactsBucket} {
		if err := m.ensureBucketExists(bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	if err := m.setupLifecycleRules(context.Background()); err != nil {
		// 生命周期设置失败不阻断启动
		logger.Printf("[MinIO] lifecycle setup failed: %v", err)
	}

	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		if err := m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		m.logger.Printf("[MinIO] bucket %s created", bucketName)
	}
	return nil
}

// setupLifecycleRules 原始文档桶按配置过期，产物桶不设过期
func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	if m.cfg.RawFileExpireDays <= 0 {
		return nil
	}
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     "expire-raw-documents",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(m.cfg.RawFileExpireDays),
			},
		},
	}
	if err := m.client.SetBucketLifecycle(ctx, m.rawBucket, lc); err != nil {
		return fmt.Errorf("为原始文档桶 %s 设置生命周期失败: %w", m.rawBucket, err)
	}
	return nil
}

// UploadArtifact 上传产物字节并返回对象路径。
// 仓储中的产物记录必须在此调用成功之后再写入。
func (m *MinIO) UploadArtifact(ctx context.Context, caseID, artifactID, fileName string, data []byte, contentType string) (string, error) {
	objectKey := ArtifactObjectKey(caseID, artifactID, fileName)
	if contentType == "" {
		contentType = getContentType(path.Ext(fileName))
	}

	_, err := m.client.PutObject(ctx, m.artifactsBucket, objectKey,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传产物 %s/%s 失败: %w", m.artifactsBucket, objectKey, err)
	}
	return objectKey, nil
}

// DownloadRawDocument 下载原始文档字节
func (m *MinIO) DownloadRawDocument(ctx context.Context, objectKey string) ([]byte, error) {
	return m.downloadObject(ctx, m.rawBucket, objectKey)
}

// DownloadArtifact 下载产物字节
func (m *MinIO) DownloadArtifact(ctx context.Context, objectKey string) ([]byte, error) {
	return m.downloadObject(ctx, m.artifactsBucket, objectKey)
}

func (m *MinIO) downloadObject(ctx context.Context, bucketName, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, objectKey, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", bucketName, objectKey, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucketName, objectKey, err)
	}
	return data, nil
}

// PresignedUploadURL 为原始文档签发POST直传凭证。
// 策略限制对象路径、内容类型和0-10MiB的大小范围，超限由存储端直接拒绝。
func (m *MinIO) PresignedUploadURL(ctx context.Context, caseID, documentID, fileName string) (*PresignedUpload, error) {
	objectKey := RawObjectKey(caseID, documentID, fileName)
	contentType := getContentType(path.Ext(fileName))
	expiresAt := time.Now().Add(constants.UploadURLTTL)

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(m.rawBucket); err != nil {
		return nil, fmt.Errorf("构建上传策略失败: %w", err)
	}
	if err := policy.SetKey(objectKey); err != nil {
		return nil, fmt.Errorf("构建上传策略失败: %w", err)
	}
	if err := policy.SetExpires(expiresAt.UTC()); err != nil {
		return nil, fmt.Errorf("构建上传策略失败: %w", err)
	}
	if err := policy.SetContentType(contentType); err != nil {
		return nil, fmt.Errorf("构建上传策略失败: %w", err)
	}
	if err := policy.SetContentLengthRange(0, constants.MaxUploadSizeBytes); err != nil {
		return nil, fmt.Errorf("构建上传策略失败: %w", err)
	}

	u, formData, err := m.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("签发上传URL失败: %w", err)
	}

	return &PresignedUpload{
		URL:       u.String(),
		FormData:  formData,
		ObjectKey: objectKey,
		ExpiresAt: expiresAt,
	}, nil
}

// PresignedDownloadURL 为产物签发限时下载URL，附件方式返回
func (m *MinIO) PresignedDownloadURL(ctx context.Context, objectKey, fileName string) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	presignedURL, err := m.client.PresignedGetObject(ctx, m.artifactsBucket, objectKey, constants.DownloadURLTTL, reqParams)
	if err != nil {
		return "", fmt.Errorf("签发下载URL失败: %w", err)
	}
	return presignedURL.String(), nil
}

// RawObjectExists 判断原始对象是否已上传
func (m *MinIO) RawObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.rawBucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("检查对象 %s 状态失败: %w", objectKey, err)
	}
	return true, nil
}

// getContentType 按扩展名推断内容类型
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
