// Package composer assembles the message sequences sent to the
// chat-completion service: the retrieval-grounded SQL generation prompt and
// the fixed data-analysis insight prompt.
package composer

import (
	"strings"

	"github.com/insightgenix/insightgenix/internal/openai"
	"github.com/insightgenix/insightgenix/internal/training"
)

// sectionTokenBudget caps the approximate token count of the schema and
// documentation sections independently.
const sectionTokenBudget = 14000

// Raw string literals cannot contain backticks, so templates spell fenced
// blocks with {fence} and render it at init.
var fence = strings.NewReplacer("{fence}", "```")

var sqlSystemTemplate = fence.Replace(`
As an SQL expert named InsightGenix, your primary task is to generate SELECT SQL queries in response to user questions.
Your goal is to give correct, executable sql queries to users.
Your responses should exclusively consist of SQL code, without any explanatory text.
The table name and column names are in the DDL, and the documentation of the table and columns is in Documentation.
Use insights from past queries to guide your current responses.

**DDL:** {ddl}

**Documentation:** <documentation>{document}</documentation>

Here are the critical rules for the interaction you must abide by:
<rules>
1. You MUST wrap the generated sql code within {fence}sql code markdown in this format e.g.
{fence}sql
(select 1) union (select 2)
{fence}
2. Unless specifically instructed to retrieve all results, ALWAYS limit your query outcomes to a maximum of 10 records.
3. For string/text searches, perform case-insensitive comparisons using the LOWER() function, and use the LIKE operator with wildcard characters (%) for partial matches so fuzzy searching works when an exact term is absent.
4. Construct a single, comprehensive SQL query per user request.
5. Strictly use table names and columns as outlined in the provided DDL statements. Do not introduce or assume the existence of tables or columns not specified in these statements.
6. Generate only SELECT statements for data retrieval; refrain from creating any DML statements (INSERT, UPDATE, DELETE, DROP, etc.). If a user requests a DML statement, respond with 'This operation is prohibited by the admin. Please contact them for further assistance.'
</rules>
`)

const insightSystemPrompt = `### Data Analysis Insight Brief

#### Context
As an expert in data analysis, your task is to examine the provided dataset and extract key insights, patterns, and potential challenges. Your analysis should focus on providing actionable recommendations based on the findings.

**Output Format:**
#### Summary
Provide a concise summary of the critical insights derived from the dataset, emphasizing their significance and implications.

#### Detailed Analysis
Offer a thorough analysis of the dataset, delving into the implications of the findings and their potential impact on decision-making processes.

### Additional Insights (If Requested)
If further insights are desired, address the following areas:

- **Trends:** Identify emerging trends or patterns within the dataset, such as shifts over time or correlations between variables.

- **Challenges:** Discuss any challenges or limitations encountered during the analysis, including data quality issues or methodological constraints.

- **Recommendations:** Propose actionable recommendations based on the analysis, suggesting potential strategies for improvement or future research directions.

### Conclusion
Conclude by synthesizing the insights gathered from the analysis and outlining potential next steps or considerations for stakeholders.
`

// EstimateTokens is the rough 4-chars-per-token heuristic used for section
// budgeting.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// joinWithinBudget concatenates items in the given order, each followed by a
// blank line, accepting an item only while the running token estimate plus
// the item's estimate stays strictly below the budget. Items are wholly
// included or wholly excluded, never reordered or truncated, so the result
// is always a prefix-respecting subset of the input.
func joinWithinBudget(items []string, budget int) string {
	var b strings.Builder
	for _, item := range items {
		if EstimateTokens(b.String())+EstimateTokens(item) >= budget {
			break
		}
		b.WriteString(item)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BuildSQLPrompt renders the SQL generation prompt: the instruction template
// with budget-trimmed schema and documentation sections, retrieved examples
// replayed as alternating user/assistant pairs, and the live question last.
// Examples missing either field are skipped.
func BuildSQLPrompt(question string, examples []training.Example, schema, docs []string) []openai.Message {
	system := strings.NewReplacer(
		"{ddl}", joinWithinBudget(schema, sectionTokenBudget),
		"{document}", joinWithinBudget(docs, sectionTokenBudget),
	).Replace(sqlSystemTemplate)

	messages := []openai.Message{{Role: "system", Content: system}}
	for _, example := range examples {
		if example.Question == "" || example.SQL == "" {
			continue
		}
		messages = append(messages,
			openai.Message{Role: "user", Content: example.Question},
			openai.Message{Role: "assistant", Content: example.SQL},
		)
	}
	return append(messages, openai.Message{Role: "user", Content: question})
}

// BuildInsightPrompt renders the fixed analysis prompt over a prior query's
// question and condensed result sample.
func BuildInsightPrompt(userRequest, priorQuestion, resultSample string) []openai.Message {
	return []openai.Message{
		{Role: "system", Content: insightSystemPrompt},
		{Role: "user", Content: userRequest +
			"\n#### Inquiry\n**Question:** " + priorQuestion +
			"\n\n#### Data Overview\n**Query Result:**  " + resultSample},
	}
}
