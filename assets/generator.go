package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGenerationFailed wraps every failure of an image generation request.
var ErrGenerationFailed = errors.New("图片生成失败")

// Generator turns a prompt into a hosted image URL.
type Generator interface {
	Generate(ctx context.Context, prompt, ratio string) (string, error)
}

// Uploader stores bytes under name and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// GenerateRequest is the JSON body posted to the generation endpoint.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// HTTPGenerator posts prompts to <BaseURL>/generate, which answers with image bytes,
// and hosts the result through an Uploader.
type HTTPGenerator struct {
	baseURL  string
	client   *http.Client
	uploader Uploader
	log      *zap.Logger
}

// NewHTTPGenerator creates a generator client.
func NewHTTPGenerator(baseURL string, timeout time.Duration, uploader Uploader, log *zap.Logger) (*HTTPGenerator, error) {
	if baseURL == "" {
		return nil, errors.New("未配置图片生成服务地址")
	}
	if uploader == nil {
		return nil, errors.New("未配置素材存储")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPGenerator{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		uploader: uploader,
		log:      log,
	}, nil
}

var _ Generator = (*HTTPGenerator)(nil)

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt, ratio string) (string, error) {
	log := g.log.With(zap.String("ratio", ratio))
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: 提示词为空", ErrGenerationFailed)
	}
	data, err := g.call(ctx, prompt, ratio)
	if err != nil {
		log.Error("调用图片生成服务失败", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: 服务返回空数据", ErrGenerationFailed)
	}
	name := uuid.NewString() + extensionFor(data)
	url, err := g.uploader.Upload(ctx, name, data)
	if err != nil {
		log.Error("保存生成图片失败", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	log.Info("图片生成完成", zap.String("url", url), zap.Int("size_bytes", len(data)))
	return url, nil
}

func (g *HTTPGenerator) call(ctx context.Context, prompt, ratio string) ([]byte, error) {
	body, err := json.Marshal(GenerateRequest{Prompt: prompt, Ratio: ratio})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("服务返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if readErr != nil {
		return nil, fmt.Errorf("读取响应失败: %w", readErr)
	}
	return data, nil
}

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
