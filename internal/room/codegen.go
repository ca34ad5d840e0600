package room

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/hitoshi/chatroom/internal/model"
)

// joinCodeAlphabet は参加コードに使用する文字。英大文字と数字のみ。
const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeGenerator はプライベートルームの参加コードを生成する。
type CodeGenerator func() string

// NewCodeGenerator は8文字の参加コードを生成するCodeGeneratorを返す。
func NewCodeGenerator() (CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(joinCodeAlphabet, model.JoinCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create join code generator: %w", err)
	}
	return CodeGenerator(gen), nil
}
