package webhook

import "intake/internal/pipeline"

// GitHub event names handled by Handler.
const (
	EventPing        = "ping"
	EventPullRequest = "pull_request"
	EventRepository  = "repository"
)

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		Merged  bool   `json:"merged"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

func (p pullRequestPayload) event(deliveryID string) pipeline.PullRequestEvent {
	number := p.PullRequest.Number
	if number == 0 {
		number = p.Number
	}
	return pipeline.PullRequestEvent{
		DeliveryID: deliveryID,
		Action:     p.Action,
		Number:     number,
		Title:      p.PullRequest.Title,
		Body:       p.PullRequest.Body,
		URL:        p.PullRequest.HTMLURL,
		Branch:     p.PullRequest.Head.Ref,
		Merged:     p.PullRequest.Merged,
		Sender:     p.Sender.Login,
	}
}

type repositoryPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}
