package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCamelCase_SplitsOnCaseTransitions(t *testing.T) {
	assert.Equal(t, []string{"get", "User", "By", "Id"}, SplitCamelCase("getUserById"))
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitCamelCase("HTTPHandler"))
	assert.Equal(t, []string{"parse", "HTTP", "Request"}, SplitCamelCase("parseHTTPRequest"))
}

func TestSplitCamelCase_EmptyStringReturnsEmptySlice(t *testing.T) {
	result := SplitCamelCase("")
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestSplitCodeToken_SplitsSnakeCase(t *testing.T) {
	assert.Equal(t, []string{"user", "id"}, SplitCodeToken("user_id"))
}

func TestSplitCodeToken_SplitsMixedSnakeAndCamelCase(t *testing.T) {
	assert.Equal(t, []string{"user", "Id", "value"}, SplitCodeToken("user_Id_value"))
}

func TestTokenizeCode_LowercasesAndSplitsIdentifiers(t *testing.T) {
	tokens := TokenizeCode("func GetUserById(a int)")
	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "user")
	assert.Contains(t, tokens, "by")
	assert.Contains(t, tokens, "id")
	assert.NotContains(t, tokens, "a", "single-char tokens are filtered")
}

func TestTokenizeCode_FiltersTokensShorterThanTwoChars(t *testing.T) {
	tokens := TokenizeCode("a b cd")
	assert.Equal(t, []string{"cd"}, tokens)
}

func TestFilterStopWords_RemovesKnownStopWordsCaseInsensitively(t *testing.T) {
	stop := BuildStopWordMap([]string{"the", "and"})
	result := FilterStopWords([]string{"The", "quick", "AND", "brown"}, stop)
	assert.Equal(t, []string{"quick", "brown"}, result)
}

func TestBuildStopWordMap_LowercasesEntries(t *testing.T) {
	m := BuildStopWordMap([]string{"Func", "RETURN"})
	_, hasFunc := m["func"]
	_, hasReturn := m["return"]
	assert.True(t, hasFunc)
	assert.True(t, hasReturn)
}
