package regsgov

import "strconv"

// JSON:API envelope types for the regulations.gov v4 comments endpoints,
// reduced to the attributes this system consumes.

type listResponse struct {
	Data []commentResource `json:"data"`
	Meta struct {
		TotalElements int `json:"totalElements"`
	} `json:"meta"`
}

type detailResponse struct {
	Data     commentResource    `json:"data"`
	Included []includedResource `json:"included"`
}

type commentResource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes commentAttributes `json:"attributes"`
}

type commentAttributes struct {
	Comment             string `json:"comment"`
	PostedDate          string `json:"postedDate"`
	ModifyDate          string `json:"modifyDate"`
	LastModifiedDate    string `json:"lastModifiedDate"`
	CommentOnDocumentID string `json:"commentOnDocumentId"`
}

type includedResource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		DocOrder    int          `json:"docOrder"`
		Title       string       `json:"title"`
		ModifyDate  string       `json:"modifyDate"`
		FileFormats []fileFormat `json:"fileFormats"`
	} `json:"attributes"`
}

type fileFormat struct {
	Format  string `json:"format"`
	FileURL string `json:"fileUrl"`
	Size    int64  `json:"size"`
}

// Comment is a simplified comment record as persisted in shards.
type Comment struct {
	CommentID           string
	CommentText         string
	PostedDate          string
	LastModifiedDate    string
	CommentOnDocumentID string
}

// commentFromResource builds a Comment from a detail response resource.
func commentFromResource(res commentResource) Comment {
	return Comment{
		CommentID:           res.ID,
		CommentText:         res.Attributes.Comment,
		PostedDate:          res.Attributes.PostedDate,
		LastModifiedDate:    res.Attributes.ModifyDate,
		CommentOnDocumentID: res.Attributes.CommentOnDocumentID,
	}
}

// CommentCSVHeader is the shard schema for comment rows. The first shard's
// header defines the merged artifact schema, so this order is load-bearing.
func CommentCSVHeader() []string {
	return []string{
		"comment_id",
		"comment_text",
		"posted_date",
		"last_modified_date",
		"comment_on_document_id",
	}
}

// CSVRecord returns the comment as a CSV row matching CommentCSVHeader.
func (c Comment) CSVRecord() []string {
	return []string{
		c.CommentID,
		c.CommentText,
		c.PostedDate,
		c.LastModifiedDate,
		c.CommentOnDocumentID,
	}
}

// Attachment is attachment metadata tied to a parent comment.
type Attachment struct {
	CommentID    string
	DocumentID   string
	AttachmentID string
	DocOrder     int
	Title        string
	ModifyDate   string
	FileFormat   string
	FileURL      string
	Size         int64
}

// attachmentFromResource builds an Attachment from an included resource.
// Returns false when the resource carries no file formats.
func attachmentFromResource(res includedResource, commentID, documentID string) (Attachment, bool) {
	if res.Type != "attachments" || len(res.Attributes.FileFormats) == 0 {
		return Attachment{}, false
	}

	// First available file format wins.
	format := res.Attributes.FileFormats[0]

	return Attachment{
		CommentID:    commentID,
		DocumentID:   documentID,
		AttachmentID: res.ID,
		DocOrder:     res.Attributes.DocOrder,
		Title:        res.Attributes.Title,
		ModifyDate:   res.Attributes.ModifyDate,
		FileFormat:   format.Format,
		FileURL:      format.FileURL,
		Size:         format.Size,
	}, true
}

// AttachmentCSVHeader is the shard schema for attachment rows. Also used to
// synthesize an empty attachments artifact so downstream schema stays stable.
func AttachmentCSVHeader() []string {
	return []string{
		"comment_id",
		"document_id",
		"attachment_id",
		"doc_order",
		"title",
		"modify_date",
		"file_format",
		"file_url",
		"size",
	}
}

// CSVRecord returns the attachment as a CSV row matching AttachmentCSVHeader.
func (a Attachment) CSVRecord() []string {
	return []string{
		a.CommentID,
		a.DocumentID,
		a.AttachmentID,
		strconv.Itoa(a.DocOrder),
		a.Title,
		a.ModifyDate,
		a.FileFormat,
		a.FileURL,
		strconv.FormatInt(a.Size, 10),
	}
}
