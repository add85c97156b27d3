package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/calodon/calodon/activitypub"
	"github.com/calodon/calodon/util"
	"github.com/gorilla/feeds"
)

// GetRSS renders an account's published activities as an RSS feed, so plain
// feed readers can follow an actor without speaking ActivityPub.
func (s *Server) GetRSS(username string) (string, error) {

	if username == "" {
		return "", errors.New("username is required")
	}

	acc, err := s.directory.GetAccountByUsername(username, s.directory.Domain())
	if err != nil || acc == nil {
		log.Println(fmt.Sprintf("Could not find account %s!", username), err)
		return "", errors.New("error retrieving account by username")
	}

	activities, err := s.service.ReadOutbox(acc)
	if err != nil {
		log.Println(fmt.Sprintf("Could not get activities from %s!", username), err)
		return "", errors.New("error retrieving activities by username")
	}

	link := fmt.Sprintf("http://%s:%d/feed?username=%s", s.conf.Conf.Host, s.conf.Conf.HttpPort, username)
	email := fmt.Sprintf("%s@%s", acc.Username, acc.Domain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Calodon Activities - %s", username),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("published activities of %s", acc.Handle()),
		Author:      &feeds.Author{Name: username, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, activity := range activities {
		if activity.Type != activitypub.TypeCreate {
			continue
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      activity.Id,
				Title:   activity.Published.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: activity.Object.Id},
				Content: fmt.Sprintf("%s published %s", acc.Handle(), activity.Object.Id),
				Author:  &feeds.Author{Name: username, Email: email},
				Created: activity.Published,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
