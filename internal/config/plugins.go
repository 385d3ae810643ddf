package config

// Prompt template keys shared by every plugin.
const (
	PromptSecurityReview       = "security_review"
	PromptSecurityReviewFile   = "security_review_file"
	PromptSecurityReviewChecks = "security_review_checks"
	PromptValidationReview     = "validation_review"
	PromptAsk                  = "ask"
	PromptPatchSummary         = "patch_summary"
)

// RequiredPrompts lists the templates a plugin must define.
var RequiredPrompts = []string{
	PromptSecurityReview,
	PromptSecurityReviewFile,
	PromptSecurityReviewChecks,
	PromptValidationReview,
	PromptAsk,
	PromptPatchSummary,
}

const reportFormat = `Respond with JSON only, no prose, in exactly this shape:
{"reviews": [{"issue": "short title", "code_snippet": "offending code copied verbatim", "line_number": 0,
"severity": "low|medium|high", "confidence": 0.0, "reasoning": "why this is a vulnerability",
"mitigation": "how to fix it"}]}
Return {"reviews": []} when nothing is found.`

const reviewFilePrompt = `You are a senior security engineer reviewing the file {file_path}.
Use the CONTEXT retrieved from the rest of the codebase and its documentation to understand how the code is used.
Report only real, exploitable weaknesses in the SNIPPET. Do not report style problems.
` + reportFormat

const reviewPatchPrompt = `You are a senior security engineer reviewing a change to {file_path}.
FILE_CHANGES lists added lines prefixed with "+" and removed lines prefixed with "-".
Focus on weaknesses introduced or left exposed by the change, using the neighbouring code in CONTEXT.
` + reportFormat

const validationPrompt = `You are validating another reviewer's security findings for {file_path}.
For every issue in REVIEW decide whether it is a real vulnerability given SNIPPET and CONTEXT.
Respond with JSON only: {"validations": [{"issue": "title copied from REVIEW", "valid": true, "confidence": 0.0,
"reason": "short justification"}]}`

const askPrompt = `Answer the QUESTION about the codebase using only the CONTEXT below.
If the context does not contain the answer, say so.

CONTEXT:
{context}

QUESTION:
{question}`

const patchSummaryPrompt = `Summarize in a few sentences what the change to {file_path} does and which security
issues were found in it. Plain text, no JSON.`

// DefaultPlugins returns the built-in plugin contract for every supported language.
func DefaultPlugins() map[string]PluginConfig {
	return map[string]PluginConfig{
		"c":          plugin([]string{".c", ".h"}, cChecks),
		"cpp":        plugin([]string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx"}, cChecks),
		"python":     plugin([]string{".py"}, pythonChecks),
		"rust":       plugin([]string{".rs"}, rustChecks),
		"go":         plugin([]string{".go"}, goChecks),
		"javascript": plugin([]string{".js", ".jsx", ".mjs", ".cjs"}, jsChecks),
		"typescript": plugin([]string{".ts", ".tsx"}, jsChecks),
	}
}

func plugin(exts []string, checks string) PluginConfig {
	return PluginConfig{
		Extensions: exts,
		Splitting:  SplittingConfig{ChunkLines: 100, ChunkLinesOverlap: 10, MaxChars: 4000},
		Prompts: map[string]string{
			PromptSecurityReview:       reviewPatchPrompt,
			PromptSecurityReviewFile:   reviewFilePrompt,
			PromptSecurityReviewChecks: checks,
			PromptValidationReview:     validationPrompt,
			PromptAsk:                  askPrompt,
			PromptPatchSummary:         patchSummaryPrompt,
		},
	}
}

const cChecks = `Check in particular for: buffer overflows and out-of-bounds access, integer overflow in size
calculations, use-after-free and double free, format string bugs, unchecked return values of allocation and IO,
race conditions on shared state, and unsafe string functions (strcpy, sprintf, gets).`

const pythonChecks = `Check in particular for: command and SQL injection, unsafe deserialization (pickle, yaml.load),
path traversal, server-side request forgery, use of eval or exec on untrusted input, weak cryptography and
hardcoded secrets.`

const rustChecks = `Check in particular for: unsound unsafe blocks, unchecked indexing that can panic on untrusted
input, integer overflow in release builds, FFI boundary mistakes, and unwrap on attacker-controlled data.`

const goChecks = `Check in particular for: command and SQL injection, path traversal, unchecked errors on security
relevant calls, data races on shared maps, unbounded reads from network input, and TLS verification disabled.`

const jsChecks = `Check in particular for: cross-site scripting, prototype pollution, command injection through
child_process, SQL or NoSQL injection, insecure use of eval or Function, and missing authorization checks.`
