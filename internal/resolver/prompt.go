package resolver

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/prompts"
	"github.com/ChamsBouzaiene/repowiki/internal/session"
)

func (r *Resolver) buildMessages(req Request, question string, history []session.Message, contexts []Context) ([]engine.ChatMessage, error) {
	repo := req.RepoName
	if repo == "" {
		repo = req.RepoKey
	}

	b, err := prompts.NewLatestBuilder(r.prompts, prompts.RAGAnswerID)
	if err != nil {
		return nil, err
	}
	b.SetVariable("repo", repo).SetVariable("language", prompts.LanguageName(req.Language))
	if IsDeepResearch(question) {
		deep, err := r.prompts.GetLatest(prompts.DeepResearchID)
		if err != nil {
			return nil, err
		}
		b.AddFragment(deep.Content)
	}
	system, err := b.Build()
	if err != nil {
		return nil, err
	}

	msgs := make([]engine.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, engine.ChatMessage{Role: engine.RoleSystem, Content: system})
	msgs = append(msgs, session.ChatMessages(history)...)
	msgs = append(msgs, engine.ChatMessage{Role: engine.RoleUser, Content: userMessage(question, req.FilePath, contexts)})
	return msgs, nil
}

// userMessage lays out retrieved excerpts followed by the question.
func userMessage(question, filePath string, contexts []Context) string {
	var sb strings.Builder
	sb.WriteString("<retrieved_context>\n")
	if len(contexts) == 0 {
		sb.WriteString("(no matching excerpts)\n")
	}
	for _, c := range contexts {
		fmt.Fprintf(&sb, "### [%s:%d-%d]\n```%s\n%s\n```\n\n", c.Path, c.StartLine, c.EndLine, c.Language, strings.TrimRight(c.Text, "\n"))
	}
	sb.WriteString("</retrieved_context>\n\n")
	if filePath != "" {
		fmt.Fprintf(&sb, "The question concerns the file %s.\n\n", filePath)
	}
	sb.WriteString("<question>\n")
	sb.WriteString(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(question), DeepResearchPrefix)))
	sb.WriteString("\n</question>")
	return sb.String()
}
