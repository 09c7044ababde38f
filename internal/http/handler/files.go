package handler

import (
	"io"
	"mime"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"scrubapi/internal/http/middleware"
	"scrubapi/internal/service"
)

// UploadFile accepts a multipart upload (field name: file) and runs it
// through the scrubbing pipeline. An optional "size" form field declares the
// expected byte count.
//
// @Summary Upload and scrub a file
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "file to upload"
// @Param size formData int false "declared size in bytes"
// @Success 201 {object} service.UploadResult
// @Failure 400 {object} errorPayload
// @Failure 413 {object} errorPayload
// @Failure 415 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /api/files/upload [post]
func UploadFile(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, service.CodeFileRequired, "file is required")
		}

		declared := fh.Size
		if v := c.FormValue("size"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return writeError(c, fiber.StatusBadRequest, "INVALID_SIZE", "invalid size")
			}
			declared = n
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot read uploaded file")
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		res, err := svc.Process(c.UserContext(), service.UploadRequest{
			Filename: fh.Filename,
			MimeType: ct,
			Size:     declared,
			Data:     data,
			OwnerID:  middleware.OwnerFrom(c),
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// ListFiles lists the caller's files with limit & offset.
//
// @Summary List files
// @Tags files
// @Produce json
// @Param limit query int false "page size" default(10)
// @Param offset query int false "page offset" default(0)
// @Success 200 {object} service.FileListResult
// @Router /api/files [get]
func ListFiles(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), middleware.OwnerFrom(c), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetFile returns the provenance record of one file.
//
// @Summary Get file record
// @Tags files
// @Produce json
// @Param id path string true "file id"
// @Success 200 {object} model.FileRecord
// @Failure 404 {object} errorPayload
// @Router /api/files/{id} [get]
func GetFile(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rec, err := svc.Get(c.UserContext(), middleware.OwnerFrom(c), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// LookupFile finds the newest record for a content fingerprint.
//
// @Summary Find file by fingerprint
// @Tags files
// @Produce json
// @Param hash path string true "hex digest, optionally prefixed with the algorithm"
// @Success 200 {object} model.FileRecord
// @Failure 404 {object} errorPayload
// @Router /api/files/hash/{hash} [get]
func LookupFile(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := svc.Lookup(c.UserContext(), middleware.OwnerFrom(c), c.Params("hash"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// DownloadFile redirects to a presigned URL or streams the scrubbed artifact.
//
// @Summary Download scrubbed file
// @Tags files
// @Produce octet-stream
// @Param id path string true "file id"
// @Success 200 {file} binary
// @Success 302
// @Failure 404 {object} errorPayload
// @Router /api/files/{id}/download [get]
func DownloadFile(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		d, err := svc.Download(c.UserContext(), middleware.OwnerFrom(c), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		if d.URL != "" {
			return c.Redirect(d.URL, fiber.StatusFound)
		}

		c.Set(fiber.HeaderContentType, d.Record.MimeType)
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": d.Record.OriginalName}))
		size := -1
		if d.Info.Size > 0 {
			size = int(d.Info.Size)
		}
		return c.SendStream(d.Body, size)
	}
}

// DeleteFile removes a file and its record.
//
// @Summary Delete file
// @Tags files
// @Param id path string true "file id"
// @Success 204
// @Failure 404 {object} errorPayload
// @Router /api/files/{id} [delete]
func DeleteFile(svc service.FileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := svc.Delete(c.UserContext(), middleware.OwnerFrom(c), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
