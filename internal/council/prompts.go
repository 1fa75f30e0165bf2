package council

import (
	"fmt"
	"strings"
)

// RankingPrompt asks a reviewer to evaluate the anonymized answers and end
// with a parseable FINAL RANKING list.
func RankingPrompt(query, anonymized string) string {
	return fmt.Sprintf(`You are evaluating different responses to the following question:

%s

Here are the responses (anonymized):

%s

Your task:
1. Evaluate each response based on accuracy, completeness, clarity, and usefulness
2. Consider the strengths and weaknesses of each response
3. Provide a final ranking from best to worst

IMPORTANT: You MUST format your final ranking EXACTLY as shown below:

FINAL RANKING:
1. Response X
2. Response Y
3. Response Z

(Replace X, Y, Z with the actual response letters)

Now provide your evaluation and ranking:`, query, anonymized)
}

// ChairmanPrompt gives the chairman the query, every answer and every
// ranking with model names visible.
func ChairmanPrompt(query string, stage1 []Stage1Result, stage2 []Stage2Result) string {
	var answers strings.Builder
	answers.WriteString("STAGE 1 - Individual Responses:\n\n")
	for i, r := range stage1 {
		fmt.Fprintf(&answers, "%d. %s:\n%s\n\n", i+1, r.Model.Short(), r.Response)
	}

	var rankings strings.Builder
	rankings.WriteString("STAGE 2 - Peer Rankings:\n\n")
	for i, r := range stage2 {
		fmt.Fprintf(&rankings, "%d. %s's Ranking:\n%s\n\n", i+1, r.Model.Short(), r.Ranking)
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a question and then ranked each other's answers.

Original Question: %s

%s

%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive answer. This is NOT a summary - you should:

1. Consider the insights from all individual responses
2. Take into account the peer rankings and what they reveal about response quality
3. Note patterns of agreement or disagreement among the models
4. Integrate the collective wisdom into a cohesive, well-reasoned answer
5. Provide additional context or nuance where the council's responses complement each other

Synthesize the council's collective wisdom into your final answer:`, query, answers.String(), rankings.String())
}
