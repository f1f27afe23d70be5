package xpolicy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// koanfDelim 配置路径分隔符。
const koanfDelim = "."

// LoadFile 从文件加载策略并与内置默认值合并。
// 根据文件扩展名自动检测格式（.yaml/.yml 或 .json）。
//
// 合并语义：文件中出现的键覆盖默认值，未出现的键保持默认。
// 部分策略文件（只调几个阈值）因此是合法的。
func LoadFile(path string) (Policy, error) {
	format, err := detectFormat(path)
	if err != nil {
		return Policy{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("xpolicy: read %s: %w", path, err)
	}

	return LoadBytes(data, format)
}

// LoadBytes 从字节数据加载策略并与内置默认值合并。
func LoadBytes(data []byte, format Format) (Policy, error) {
	parser, err := parserFor(format)
	if err != nil {
		return Policy{}, err
	}

	k := koanf.New(koanfDelim)
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
		}
	}

	policy := Default()
	if err := k.UnmarshalWithConf("", &policy, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// detectFormat 根据文件扩展名检测配置格式。
func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// parserFor 返回格式对应的 koanf 解析器。
func parserFor(format Format) (koanf.Parser, error) {
	switch format {
	case FormatYAML:
		return kyaml.Parser(), nil
	case FormatJSON:
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
